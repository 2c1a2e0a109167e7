// Command glccapture drives the GLCS capture pipeline: one or more ALSA
// capture sources feed an uncompressed packetstream.Buffer, an optional
// pack worker.Group compresses packets above a size threshold into a
// second buffer, and a container.Sink drains whichever buffer is last
// into a restartable on-disk stream.
//
// The hook library's actual capture trigger is a running process's
// OpenGL swap calls, reached via ELF symbol rebinding, which this build
// does not include. In its place, glccapture starts capturing as soon as
// its pipeline is up and stops on SIGINT/SIGTERM, exercising the same
// packet pipeline, container format, and ALSA capture state machine the
// full hook would drive.
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/glcs/internal/alsacapture"
	"github.com/lanikai/glcs/internal/compress"
	"github.com/lanikai/glcs/internal/config"
	"github.com/lanikai/glcs/internal/container"
	"github.com/lanikai/glcs/internal/glc"
	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
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

	bootLog := logging.NewLogger("config", os.Stderr)
	cfg := config.FromEnviron(bootLog)

	if overrides, err := config.LoadFile(config.DefaultFile); err != nil {
		bootLog.Warn("glcs.yaml: %v", err)
	} else {
		cfg.Apply(bootLog, overrides)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			bootLog.Error("open GLC_LOG_FILE %q: %v", cfg.LogFile, err)
		} else {
			defer f.Close()
			logging.DefaultLogger.SetDestination(f)
		}
	}
	logging.DefaultLogger.Level = cfg.LogLevel

	ctx := glc.New()
	log := ctx.Log("glccapture")

	uncompressed := packetstream.New(cfg.UncompressedBufferSize, false)
	sinkSource := uncompressed

	var packGroup *worker.Group
	if codec := compress.ByType(cfg.Compress); codec != nil {
		compressed := packetstream.New(cfg.CompressedBufferSize, false)
		packFilter := compress.NewPackFilter(codec, compress.DefaultMinSize)
		packFilter.Log = ctx.Log("pack")
		packGroup = worker.NewGroup(ctx.Log("pack"), uncompressed, compressed, packFilter, 1)
		packGroup.SetRealtime(cfg.RTPrio)
		packGroup.Run()
		sinkSource = compressed
	}

	var captures []*alsacapture.Capture
	if cfg.Audio {
		for _, dev := range cfg.AudioRecord {
			id := ctx.AudioStreams.Next()
			c, err := alsacapture.Open(ctx.Log("alsacapture"), uncompressed, ctx.Clock, id, normalizeDeviceName(dev.Name), dev.Rate, dev.Channels, message.S16LE)
			if err != nil {
				log.Error("open audio device %q: %v", dev.Name, err)
				continue
			}
			c.SetRealtime(cfg.RTPrio)
			c.SetAllowSkip(cfg.AudioSkip)
			captures = append(captures, c)
		}
	}
	if cfg.Audio && len(captures) == 0 {
		log.Warn("GLC_AUDIO set but no device in GLC_AUDIO_RECORD could be opened")
	}

	appName := filepath.Base(os.Args[0])
	filename := expandFileTemplate(cfg.FileTemplate, appName)

	var sinkWG sync.WaitGroup
	var sinkErr error

	if cfg.Pipe {
		log.Warn("pipesink: GLC_PIPE requested, but this build captures no video stream (no OpenGL frame grabbing); falling back to the file sink")
	}

	sink := container.NewSink(ctx.Log("container"), sinkSource, appName, cfg.FPS)
	sink.SetSync(cfg.Sync)
	sink.SetCallback(func(kind message.CallbackSubKind, arg uint64) {
		log.Info("container: callback request kind=%d arg=%d", kind, arg)
	})
	if err := sink.OpenTarget(filename); err != nil {
		log.Error("open target %q: %v", filename, err)
		os.Exit(1)
	}
	if err := sink.WriteInfo(); err != nil {
		log.Error("write info: %v", err)
		os.Exit(1)
	}
	log.Info("capturing to %s", filename)

	sinkWG.Add(1)
	go func() {
		defer sinkWG.Done()
		sinkErr = sink.Run()
	}()

	var captureWG sync.WaitGroup
	for _, c := range captures {
		c := c
		captureWG.Add(1)
		go func() {
			defer captureWG.Done()
			if err := c.Run(); err != nil {
				log.Error("alsacapture: %v", err)
			}
		}()
	}

	// GLC_START's real meaning ("begin capturing as soon as the pipeline
	// is up") presumes a hooked host process that can later flip
	// skip_data; without that hook surface, every source simply starts
	// immediately once opened.
	for _, c := range captures {
		c.SetSkip(false)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info("shutdown requested")

	for _, c := range captures {
		c.Stop()
	}
	captureWG.Wait()

	if err := packetstream.WritePacket(uncompressed, message.Close, nil); err != nil {
		log.Error("write CLOSE: %v", err)
	}
	if packGroup != nil {
		if err := packGroup.Wait(); err != nil {
			log.Error("pack: %v", err)
		}
	}
	sinkWG.Wait()
	if sinkErr != nil {
		log.Error("container: %v", sinkErr)
	}
	if err := sink.Destroy(); err != nil {
		log.Error("destroy sink: %v", err)
	}

	log.Info("capture stopped")
}

// normalizeDeviceName maps the GLC_AUDIO_RECORD placeholder "default" to
// "" (alsacapture.Open's "use the first recording device found"
// sentinel).
func normalizeDeviceName(name string) string {
	if name == config.DefaultAudioDevice {
		return ""
	}
	return name
}

// expandFileTemplate expands GLC_FILE's %app%/%pid%/%capture% tokens and
// any strftime-style date directive.
func expandFileTemplate(tmpl, appName string) string {
	now := time.Now()
	r := strings.NewReplacer(
		"%app%", appName,
		"%pid%", strconv.Itoa(os.Getpid()),
		"%capture%", "1",
	)
	expanded := r.Replace(tmpl)
	expanded = expandStrftime(expanded, now)
	if !strings.HasSuffix(expanded, ".glc") {
		expanded += ".glc"
	}
	return expanded
}

var strftimeDirectives = map[byte]string{
	'Y': "2006", 'm': "01", 'd': "02",
	'H': "15", 'M': "04", 'S': "05",
}

// expandStrftime rewrites a small subset of strftime directives
// (%Y %m %d %H %M %S) into their time.Now() value, one directive at a
// time since Go's reference-layout formatting can't be driven
// incrementally from a format string containing literal '%' characters.
func expandStrftime(s string, now time.Time) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+1 < len(s) {
			if layout, ok := strftimeDirectives[s[i+1]]; ok {
				b.WriteString(now.Format(layout))
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
