// Command glcplay reads a captured container file, runs it back through
// the unpack stage, and fans the merged stream out per stream id to an
// ALSA playback consumer for each audio sub-stream.
//
// The video playback path (OpenGL rendering) and the BMP/PNG/YUV4MPEG/
// WAV exporters are collaborators this build does not include; requesting
// one of the exporter flags is reported as an error rather than silently
// ignored.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/glcs/internal/alsaplayback"
	"github.com/lanikai/glcs/internal/compress"
	"github.com/lanikai/glcs/internal/config"
	"github.com/lanikai/glcs/internal/container"
	"github.com/lanikai/glcs/internal/demux"
	"github.com/lanikai/glcs/internal/glc"
	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/streamid"
	"github.com/lanikai/glcs/internal/worker"
)

func main() {
	flag.Parse()
	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		printVersion()
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "glcplay: expected exactly one FILE argument")
		os.Exit(1)
	}
	filename := flag.Arg(0)

	if flagWav != 0 || flagBMP != 0 || flagPNG != 0 || flagYUV4MPEG != 0 {
		fmt.Fprintln(os.Stderr, "glcplay: WAV/BMP/PNG/YUV4MPEG export is an unhooked collaborator this build does not implement")
		os.Exit(1)
	}
	if flagResize != "" || flagColor != "" {
		fmt.Fprintln(os.Stderr, "glcplay: warning: --resize/--color have no effect without OpenGL rendering, which this build does not implement")
	}
	if flagFPS != 0 {
		fmt.Fprintln(os.Stderr, "glcplay: warning: --fps only affects video playback pacing, which this build does not implement")
	}
	if flagStreaming {
		fmt.Fprintln(os.Stderr, "glcplay: warning: --streaming plays the segments present at open; tailing a growing file is not implemented")
	}

	logging.DefaultLogger.Level = verbosityLevel(flagVerbosity)

	// glcs.yaml overrides fill in flags the caller left at their zero
	// value; an explicit flag always wins.
	if overrides, err := config.LoadFile(config.DefaultFile); err != nil {
		logging.DefaultLogger.Warn("glcs.yaml: %v", err)
	} else {
		if flagCompressed == 0 {
			flagCompressed = overrides.CompressedBufferMiB
		}
		if flagUncompressed == 0 {
			flagUncompressed = overrides.UncompressedBufferMiB
		}
	}

	ctx := glc.New()
	log := ctx.Log("glcplay")

	if flagInfo > 0 || flagShow != "" {
		if err := printInfo(log, filename, flagInfo, flagShow); err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := play(ctx, log, filename); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func verbosityLevel(v int) logging.Level {
	level := logging.Warn + logging.Level(v)
	if level > logging.MaxLevel {
		level = logging.MaxLevel
	}
	return level
}

// printInfo implements -i/--info and -s/--show: it walks segment headers
// until the requested one (default 1st) and prints its fields, or a
// single named field for --show.
func printInfo(log *logging.Logger, filename string, segment int, showKey string) error {
	if segment <= 0 {
		segment = 1
	}

	buf := packetstream.New(4<<20, false)
	src := container.NewSource(log, buf)
	if err := src.OpenSource(filename); err != nil {
		return err
	}
	defer src.CloseSource()

	var h container.InfoHeader
	var name, date string
	for i := 1; i <= segment; i++ {
		var err error
		h, name, date, err = src.ReadInfo()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("glcplay: file has fewer than %d segment(s)", segment)
			}
			return err
		}
		if i < segment {
			if err := drainSegment(src, buf); err != nil {
				return err
			}
		}
	}

	if showKey != "" {
		return printInfoField(h, name, date, showKey)
	}

	fmt.Printf("signature:   0x%08x\n", h.Signature)
	fmt.Printf("version:     0x%02x\n", h.Version)
	fmt.Printf("flags:       0x%02x\n", h.Flags)
	fmt.Printf("fps:         %v\n", h.FPS)
	fmt.Printf("pid:         %d\n", h.PID)
	fmt.Printf("name:        %s\n", name)
	fmt.Printf("date:        %s\n", date)
	return nil
}

func printInfoField(h container.InfoHeader, name, date, key string) error {
	switch key {
	case "signature":
		fmt.Printf("0x%08x\n", h.Signature)
	case "version":
		fmt.Printf("0x%02x\n", h.Version)
	case "flags":
		fmt.Printf("0x%02x\n", h.Flags)
	case "fps":
		fmt.Printf("%v\n", h.FPS)
	case "pid":
		fmt.Printf("%d\n", h.PID)
	case "name":
		fmt.Println(name)
	case "date":
		fmt.Println(date)
	default:
		return fmt.Errorf("glcplay: unknown --show key %q", key)
	}
	return nil
}

// drainSegment reads one segment's body via src.Read (which writes into
// buf, the buffer src was constructed with) while a discard goroutine
// drains buf concurrently, so the source's file position advances past
// the segment without holding its packets in memory.
func drainSegment(src *container.Source, buf *packetstream.Buffer) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			pkt, err := packetstream.ReadPacket(buf)
			if err != nil || pkt.Type == message.Close {
				return
			}
		}
	}()
	err := src.Read()
	<-done
	return err
}

func bufferSizeMiB(mib, fallbackBytes int) int {
	if mib <= 0 {
		return fallbackBytes
	}
	return mib << 20
}

// play builds the decode pipeline: container.Source -> compressed buffer
// -> unpack worker.Group -> uncompressed buffer -> demux, with ALSA
// playback on every audio sub-stream. A file may hold several
// concatenated segments; each one runs through a fresh unpack/demux pass
// over the same pair of buffers, since every stage exits cleanly at its
// segment's CLOSE.
func play(ctx *glc.Context, log *logging.Logger, filename string) error {
	const defaultBufferSize = 32 << 20
	compressedSize := bufferSizeMiB(flagCompressed, defaultBufferSize)
	uncompressedSize := bufferSizeMiB(flagUncompressed, defaultBufferSize)

	compressed := packetstream.New(compressedSize, false)
	uncompressed := packetstream.New(uncompressedSize, false)

	src := container.NewSource(ctx.Log("container"), compressed)
	if err := src.OpenSource(filename); err != nil {
		return err
	}
	defer src.CloseSource()

	for segment := 1; ; segment++ {
		h, name, _, err := src.ReadInfo()
		if err != nil {
			if err == io.EOF && segment > 1 {
				return nil
			}
			return err
		}
		log.Info("segment %d: playing %q (pid %d, fps %v)", segment, name, h.PID, h.FPS)

		if err := playSegment(ctx, src, compressed, uncompressed, uncompressedSize); err != nil {
			return err
		}

		// Each re-opened segment's timestamps restart at zero.
		ctx.Clock.Reset()
	}
}

func playSegment(ctx *glc.Context, src *container.Source, compressed, uncompressed *packetstream.Buffer, subBufferSize int) error {
	unpack := &compress.UnpackFilter{Log: ctx.Log("unpack")}
	unpackGroup := worker.NewGroup(ctx.Log("unpack"), compressed, uncompressed, unpack, 1)
	unpackGroup.SetRealtime(flagRTPrio)
	unpackGroup.Run()

	newVideoConsumer := func(id streamid.ID, out *packetstream.Buffer) demux.Consumer {
		return &videoStub{log: ctx.Log("video"), id: id, in: out}
	}
	silence := time.Duration(flagSilence * float64(time.Second))
	newAudioConsumer := func(id streamid.ID, out *packetstream.Buffer) demux.Consumer {
		return alsaplayback.NewPlayer(ctx.Log("alsaplayback"), out, flagAlsaDevice, silence)
	}

	dmx := demux.New(ctx.Log("demux"), uncompressed, subBufferSize, newVideoConsumer, newAudioConsumer)
	demuxDone := make(chan error, 1)
	go func() { demuxDone <- dmx.Run() }()

	readErr := src.Read()
	unpackErr := unpackGroup.Wait()
	demuxErr := <-demuxDone

	for _, err := range []error{readErr, unpackErr, demuxErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// videoStub implements demux.Consumer for video sub-streams: it drains
// the buffer so upstream never blocks, but does not render anything
// (OpenGL rendering is not built into this build).
type videoStub struct {
	log *logging.Logger
	id  streamid.ID
	in  *packetstream.Buffer
}

func (v *videoStub) Run() error {
	v.log.Warn("glcplay: video stream %d received but not rendered (no OpenGL collaborator in this build)", v.id)
	for {
		pkt, err := packetstream.ReadPacket(v.in)
		if err != nil {
			if err == packetstream.ErrCancelled {
				return nil
			}
			return err
		}
		if pkt.Type == message.Close {
			return nil
		}
	}
}
