// Package pipesink implements the alternate sink that spawns an external
// consumer process and feeds it a raw frame stream, rather than
// persisting to a container file as internal/container does.
//
// The child is spawned on the first eligible VIDEO_FRAME and torn down
// on CLOSE or unrecoverable error; only the first-seen stream id is
// followed.
package pipesink

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/streamid"
)

// Sink drains a packetstream.Buffer, feeding one followed video stream's
// raw pixels to a spawned child process.
type Sink struct {
	log *logging.Logger
	in  *packetstream.Buffer

	exe        string
	invert     bool
	delay      time.Duration
	fps        float64
	stopNotify func()

	videoFormats map[streamid.ID]message.VideoFormatMsg

	child        *child
	writer       frameWriter
	following    bool
	followID     streamid.ID
	firstFrame   bool
	firstFrameNs int64
	targetFile   string
}

// NewSink constructs a Sink. targetFile is passed through to the
// child's argv unmodified; stopNotify is invoked when the child dies
// unrecoverably so the caller can stop the capture that feeds it.
func NewSink(log *logging.Logger, in *packetstream.Buffer, exe string, invert bool, delayMs int, fps float64, targetFile string, stopNotify func()) *Sink {
	return &Sink{
		log:          log,
		in:           in,
		exe:          exe,
		invert:       invert,
		delay:        time.Duration(delayMs) * time.Millisecond,
		fps:          fps,
		stopNotify:   stopNotify,
		targetFile:   targetFile,
		videoFormats: make(map[streamid.ID]message.VideoFormatMsg),
		writer:       frameWriter{invert: invert},
		firstFrame:   true,
	}
}

// Run drains the input buffer until CLOSE or cancellation, spawning the
// child on the first eligible VIDEO_FRAME and shutting it down on exit.
func (s *Sink) Run() error {
	defer s.Destroy()

	for {
		pkt, err := packetstream.ReadPacket(s.in)
		if err != nil {
			if packetstream.IsCancelled(err) {
				return nil
			}
			return err
		}

		switch pkt.Type {
		case message.VideoFormat:
			m, err := message.UnmarshalVideoFormat(pkt.Payload)
			if err != nil {
				s.log.Warn("pipesink: bad VIDEO_FORMAT: %v", err)
				continue
			}
			s.videoFormats[m.ID] = m

		case message.VideoFrame:
			m, err := message.UnmarshalVideoFrame(pkt.Payload)
			if err != nil {
				s.log.Warn("pipesink: bad VIDEO_FRAME: %v", err)
				continue
			}
			if err := s.handleFrame(m); err != nil {
				s.log.Error("pipesink: %v", err)
				if s.stopNotify != nil {
					s.stopNotify()
				}
				s.in.Cancel()
				return err
			}

		case message.Close:
			return nil
		}
	}
}

// handleFrame spawns the child on first sight, follows only the first
// stream id seen, drops frames before the initial delay has elapsed,
// and writes the rest to the child.
func (s *Sink) handleFrame(m message.VideoFrameMsg) error {
	if !s.following {
		s.following = true
		s.followID = m.ID
		if err := s.spawn(m.ID); err != nil {
			return err
		}
	}
	if m.ID != s.followID {
		return nil
	}

	if s.firstFrame {
		s.firstFrame = false
		s.firstFrameNs = m.TimeNs
	}
	if time.Duration(m.TimeNs-s.firstFrameNs) < s.delay {
		return nil
	}

	format := s.videoFormats[s.followID]
	rowBytes := format.RowBytes(format.PixelFormat.BytesPerPixel())
	chunks := s.writer.chunks(m.Pixels, rowBytes, format.Height)

	frameInterval := time.Second
	if s.child.fps > 0 {
		frameInterval = time.Duration(float64(time.Second) / s.child.fps)
	}
	deadline := time.Now().Add(5 * frameInterval)

	return writeFrame(int(s.child.writeEnd.Fd()), s.child.epfd, chunks, deadline)
}

func (s *Sink) spawn(id streamid.ID) error {
	format, ok := s.videoFormats[id]
	if !ok {
		return errors.Errorf("pipesink: VIDEO_FRAME for id %d with no matching VIDEO_FORMAT", id)
	}
	bpp := format.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return errors.Errorf("pipesink: unknown pixel format %q", format.PixelFormat)
	}
	rowBytes := format.RowBytes(bpp)
	if format.Flags&message.FlagDwordAligned != 0 && rowBytes%8 != 0 {
		return errors.Errorf("pipesink: row bytes %d not a multiple of 8 with DWORD_ALIGNED set", rowBytes)
	}

	frameBytes := int(rowBytes) * int(format.Height)
	c, err := spawnChild(s.log, s.exe, format.Width, format.Height, format.PixelFormat, s.fps, s.targetFile, frameBytes)
	if err != nil {
		return err
	}
	s.child = c
	return nil
}

// Destroy runs the shutdown sequence if a child was spawned.
func (s *Sink) Destroy() error {
	if s.child == nil {
		return nil
	}
	c := s.child
	s.child = nil
	return c.shutdown(s.log)
}
