//go:build !linux

// Stub for operating systems on which ALSA is not supported: a
// same-signature, error-returning stand-in.
package alsacapture

import (
	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/clock"
	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/streamid"
)

var errNotSupported = errors.New("alsacapture: ALSA capture is only supported on linux")

// State mirrors the linux build's state enum so callers can compile
// platform-independent code against it.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopping
	Xrun
	Suspended
)

func (s State) String() string { return "unsupported" }

// Capture is a non-functional stand-in on non-Linux platforms.
type Capture struct{}

// Open always fails on non-Linux platforms.
func Open(log *logging.Logger, out *packetstream.Buffer, clk *clock.Clock, id streamid.ID, deviceName string, rate, channels int, format message.AudioSampleFormat) (*Capture, error) {
	return nil, errNotSupported
}

func (c *Capture) State() State      { return Idle }
func (c *Capture) SetSkip(skip bool) {}
func (c *Capture) Stop()             {}
func (c *Capture) SetRealtime(bool)  {}
func (c *Capture) SetAllowSkip(bool) {}
func (c *Capture) Run() error        { return errNotSupported }
