package container

import (
	"bufio"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
)

// Sink drains a packetstream.Buffer into a self-describing container
// file, supporting resumable capture: can_resume, set_sync,
// set_callback, open_target, close_target, write_info, write_eof,
// write_state, write_process_start, write_process_wait, destroy.
type Sink struct {
	log *logging.Logger
	in  *packetstream.Buffer

	mu       sync.Mutex
	file     *os.File
	w        *bufio.Writer
	sync     bool
	callback func(kind message.CallbackSubKind, arg uint64)
	state    *StateTracker

	name string
	fps  float64
}

// NewSink constructs a Sink reading from in. name and fps populate every
// segment's info_header.
func NewSink(log *logging.Logger, in *packetstream.Buffer, name string, fps float64) *Sink {
	return &Sink{
		log:   log,
		in:    in,
		state: NewStateTracker(),
		name:  name,
		fps:   fps,
	}
}

// CanResume reports whether this sink can append a new segment to an
// already-open target (true once OpenTarget has succeeded).
func (s *Sink) CanResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file != nil
}

// SetSync toggles forced flush-after-write.
func (s *Sink) SetSync(sync bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync = sync
}

// SetCallback registers the function invoked for CALLBACK_REQUEST
// packets, which are never persisted to disk.
func (s *Sink) SetCallback(cb func(kind message.CallbackSubKind, arg uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// OpenTarget creates filename with mode 0644, sets the set-group-ID bit
// (mandatory-lock friendly on systems that honor it), acquires a write
// fcntl lock over the whole file, and truncates it to zero.
func (s *Sink) OpenTarget(filename string) error {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrap(err, "container: open target")
	}
	if err := f.Chmod(0644 | os.ModeSetgid); err != nil {
		s.log.Warn("container: chmod setgid: %v", err)
	}

	lock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(io.SeekStart),
		Start:  0,
		Len:    0,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lock); err != nil {
		f.Close()
		return errors.Wrap(err, "container: acquire write lock")
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return errors.Wrap(err, "container: truncate")
	}

	s.mu.Lock()
	s.file = f
	s.w = bufio.NewWriter(f)
	s.mu.Unlock()
	return nil
}

// CloseTarget flushes and closes the current target file.
func (s *Sink) CloseTarget() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		s.file = nil
		return err
	}
	err := s.file.Close()
	s.file = nil
	s.w = nil
	return err
}

// WriteInfo writes the info_header, name, and date. Mandatory before any
// data in a segment.
func (s *Sink) WriteInfo() error {
	now := time.Now().Format(time.RFC1123)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("container: write_info: no target open")
	}

	var flags uint8
	if s.sync {
		flags |= FlagSync
	}
	h := InfoHeader{
		Signature: Signature,
		Version:   CurrentVersion,
		Flags:     flags,
		FPS:       s.fps,
		PID:       uint32(os.Getpid()),
		NameSize:  uint32(len(s.name) + 1),
		DateSize:  uint32(len(now) + 1),
	}
	if _, err := s.w.Write(h.Marshal()); err != nil {
		return err
	}
	nameBuf := make([]byte, h.NameSize)
	copy(nameBuf, s.name)
	if _, err := s.w.Write(nameBuf); err != nil {
		return err
	}
	dateBuf := make([]byte, h.DateSize)
	copy(dateBuf, now)
	if _, err := s.w.Write(dateBuf); err != nil {
		return err
	}
	return s.flushIfSync()
}

// WriteState re-emits the state tracker's latest VIDEO_FORMAT/
// AUDIO_FORMAT/COLOR packets, so a resumed segment is self-contained.
func (s *Sink) WriteState() error {
	for _, pkt := range s.state.Replay() {
		if err := s.writeMessage(pkt); err != nil {
			return err
		}
	}
	return nil
}

// WriteEOF writes a terminal CLOSE record.
func (s *Sink) WriteEOF() error {
	return s.writeMessage(message.Packet{Type: message.Close})
}

// WriteProcessStart logs that the host process has begun being captured.
// No control record is persisted for this event; CALLBACK_REQUEST-style
// markers never reach disk.
func (s *Sink) WriteProcessStart() {
	s.log.Info("container: process start")
}

// WriteProcessWait logs that the capture pipeline is waiting on the host
// process (e.g. between resumed segments).
func (s *Sink) WriteProcessWait() {
	s.log.Info("container: process wait")
}

func (s *Sink) writeMessage(pkt message.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("container: write: no target open")
	}
	if err := writeRecord(s.w, pkt); err != nil {
		return err
	}
	s.state.Observe(pkt)
	return s.flushIfSync()
}

func (s *Sink) flushIfSync() error {
	if !s.sync {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Run drains the input buffer into the target file until CLOSE or
// cancellation, dispatching CALLBACK_REQUEST packets to the registered
// callback instead of writing them.
func (s *Sink) Run() error {
	for {
		pkt, err := packetstream.ReadPacket(s.in)
		if err != nil {
			if packetstream.IsCancelled(err) {
				return nil
			}
			return err
		}

		if pkt.Type == message.CallbackRequest {
			cb, err := message.UnmarshalCallbackRequest(pkt.Payload)
			if err == nil {
				s.mu.Lock()
				callback := s.callback
				s.mu.Unlock()
				if callback != nil {
					callback(cb.SubKind, cb.Arg)
				}
			}
			continue
		}

		if err := s.writeMessage(pkt); err != nil {
			return err
		}
		if pkt.Type == message.Close {
			return nil
		}
	}
}

// Destroy closes the target file, releasing its write lock.
func (s *Sink) Destroy() error {
	return s.CloseTarget()
}
