//go:build linux

// Package alsacapture implements the ALSA audio capture source: a PCM
// handle opened for capture, negotiated hardware parameters, and a
// thread-per-device state machine (Idle/Running/Draining/Stopping/Xrun/
// Suspended) emitting AUDIO_FORMAT once and AUDIO_DATA per period
// thereafter.
package alsacapture

import (
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	yalsa "github.com/yobert/alsa"

	"github.com/lanikai/glcs/internal/clock"
	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/rtprio"
	"github.com/lanikai/glcs/internal/streamid"
)

// State is the capture thread's state.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopping
	Xrun
	Suspended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopping:
		return "stopping"
	case Xrun:
		return "xrun"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Capture owns one ALSA PCM handle and drives its state machine,
// emitting packets to out.
type Capture struct {
	log *logging.Logger
	out *packetstream.Buffer
	clk *clock.Clock
	id  streamid.ID

	dev    pcmDevice
	params negotiatedParams

	control     chan struct{}
	skipData    int32
	stopCapture int32
	state       int32
	realtime    bool
	allowSkip   bool

	formatSent bool
}

// SetRealtime toggles whether Run requests SCHED_RR priority for the
// capture goroutine at start. Call before Run.
func (c *Capture) SetRealtime(enabled bool) {
	c.realtime = enabled
}

// SetAllowSkip toggles GLC_AUDIO_SKIP's "allow skip" mode: when enabled,
// a period that can't be written because the downstream buffer is full
// is dropped silently instead of blocking the capture thread. Call
// before Run.
func (c *Capture) SetAllowSkip(enabled bool) {
	c.allowSkip = enabled
}

// newCapture is the testable constructor: dev is injected directly so
// tests can drive the state machine without real hardware.
func newCapture(log *logging.Logger, out *packetstream.Buffer, clk *clock.Clock, id streamid.ID, dev pcmDevice, params negotiatedParams) *Capture {
	return &Capture{
		log:     log,
		out:     out,
		clk:     clk,
		id:      id,
		dev:     dev,
		params:  params,
		control: make(chan struct{}, 1),
	}
}

// Open opens and negotiates deviceName (ALSA device title, "" for the
// first recording device found) at the requested rate/channels/format.
func Open(log *logging.Logger, out *packetstream.Buffer, clk *clock.Clock, id streamid.ID, deviceName string, rate, channels int, format message.AudioSampleFormat) (*Capture, error) {
	dev, err := openDevice(deviceName)
	if err != nil {
		return nil, err
	}
	params, err := negotiate(dev, rate, channels, toALSAFormat(format))
	if err != nil {
		dev.Close()
		return nil, err
	}
	return newCapture(log, out, clk, id, dev, params), nil
}

func toALSAFormat(f message.AudioSampleFormat) yalsa.FormatType {
	if f == message.S32LE || f == message.S24LE {
		return yalsa.S32_LE
	}
	return yalsa.S16_LE
}

// State returns the current state, safe for concurrent use.
func (c *Capture) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Capture) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// wake signals the control channel, the Go-channel analogue of a byte
// written to an interrupt pipe.
func (c *Capture) wake() {
	select {
	case c.control <- struct{}{}:
	default:
	}
}

// SetSkip sets skip_data. Entering Running with skip_data=1 immediately
// requested moves to Draining on the next control wake.
func (c *Capture) SetSkip(skip bool) {
	v := int32(0)
	if skip {
		v = 1
	}
	atomic.StoreInt32(&c.skipData, v)
	c.wake()
}

// Stop requests the capture thread exit.
func (c *Capture) Stop() {
	atomic.StoreInt32(&c.stopCapture, 1)
	c.wake()
}

// Run drives the state machine until Stopping. It blocks the calling
// goroutine.
func (c *Capture) Run() error {
	defer c.dev.Close()

	if c.realtime {
		rtprio.Enable(c.log)
	}

	for {
		switch c.State() {
		case Idle:
			if err := c.runIdle(); err != nil {
				return err
			}
		case Running:
			if err := c.runOnePeriod(); err != nil {
				return err
			}
		case Draining:
			c.runDraining()
		case Xrun:
			c.runXrun()
		case Suspended:
			c.runSuspended()
		case Stopping:
			return nil
		}
	}
}

// runIdle waits for a control wake; only an interrupt with skip_data=0
// transitions to Running.
func (c *Capture) runIdle() error {
	<-c.control
	if atomic.LoadInt32(&c.stopCapture) == 1 {
		c.setState(Stopping)
		return nil
	}
	if atomic.LoadInt32(&c.skipData) == 0 {
		c.setState(Running)
	}
	return nil
}

// runOnePeriod does one Running iteration: non-blocking control check,
// then exactly one period read, classified into
// Xrun/Suspended/non-fatal/ok.
func (c *Capture) runOnePeriod() error {
	select {
	case <-c.control:
		if atomic.LoadInt32(&c.stopCapture) == 1 {
			c.setState(Stopping)
			return nil
		}
		if atomic.LoadInt32(&c.skipData) == 1 {
			c.setState(Draining)
			return nil
		}
	default:
	}

	if !c.formatSent {
		if err := c.emitFormat(); err != nil {
			return err
		}
		c.formatSent = true
	}

	bytesPerFrame := c.params.channels * formatBytesPerSample(c.params.format)
	buf := make([]byte, c.params.periodSize*bytesPerFrame)

	tsNs := c.clk.Time() - periodDuration(c.params).Nanoseconds()

	if err := c.dev.Read(buf); err != nil {
		switch classifyReadErr(err) {
		case errXrun:
			c.log.Warn("alsacapture: xrun (-EPIPE)")
			c.setState(Xrun)
		case errSuspend:
			c.log.Warn("alsacapture: suspend (-ESTRPIPE)")
			c.setState(Suspended)
		default:
			c.log.Warn("alsacapture: short/other read error: %v", err)
		}
		return nil
	}

	payload := message.AudioDataMsg{
		ID:     c.id,
		TimeNs: tsNs,
		PCM:    buf,
	}.Marshal()

	if c.allowSkip {
		ok, err := packetstream.TryWritePacket(c.out, message.AudioData, payload)
		if err != nil {
			return err
		}
		if !ok {
			c.log.Warn("alsacapture: downstream buffer full, dropping period")
		}
		return nil
	}

	return packetstream.WritePacket(c.out, message.AudioData, payload)
}

func periodDuration(p negotiatedParams) time.Duration {
	return time.Duration(p.periodSize) * time.Second / time.Duration(p.rate)
}

func (c *Capture) emitFormat() error {
	var sampleFormat message.AudioSampleFormat
	if c.params.format == yalsa.S32_LE {
		sampleFormat = message.S32LE
	} else {
		sampleFormat = message.S16LE
	}
	return packetstream.WritePacket(c.out, message.AudioFormat, message.AudioFormatMsg{
		ID:       c.id,
		Flags:    message.FlagInterleaved,
		Rate:     uint32(c.params.rate),
		Channels: uint32(c.params.channels),
		Format:   sampleFormat,
	}.Marshal())
}

// runDraining re-prepares the device and falls back to Idle to await the
// next start.
func (c *Capture) runDraining() {
	if err := c.dev.Prepare(); err != nil {
		c.log.Warn("alsacapture: prepare during drain: %v", err)
	}
	c.setState(Idle)
}

// runXrun re-prepares and retries; persistent failure stops capture.
func (c *Capture) runXrun() {
	if err := c.dev.Prepare(); err != nil {
		c.log.Error("alsacapture: xrun recovery failed: %v", err)
		c.setState(Stopping)
		return
	}
	c.setState(Running)
}

// runSuspended recovers from device suspend. yobert/alsa exposes no
// snd_pcm_resume, so recovery always falls through to Prepare+Start.
func (c *Capture) runSuspended() {
	c.runXrun()
}

type readErrClass int

const (
	errOther readErrClass = iota
	errXrun
	errSuspend
)

func classifyReadErr(err error) readErrClass {
	if errors.Is(err, unix.EPIPE) {
		return errXrun
	}
	if errors.Is(err, unix.ESTRPIPE) {
		return errSuspend
	}
	return errOther
}
