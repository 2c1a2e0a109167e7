//go:build linux

package alsacapture

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	yalsa "github.com/yobert/alsa"

	"github.com/lanikai/glcs/internal/clock"
	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/streamid"
)

func newTestLogger() *logging.Logger {
	return logging.NewLogger("test", &bytes.Buffer{})
}

// fakeDevice is a pcmDevice stand-in that never touches real hardware; its
// Read method replays a scripted sequence of outcomes.
type fakeDevice struct {
	channels, rate, period int
	format                 yalsa.FormatType

	reads  []error // nil means "succeed, fill zeroes"
	nRead  int
	closed bool
}

func (d *fakeDevice) NegotiateChannels(n int) (int, error) { d.channels = n; return n, nil }
func (d *fakeDevice) NegotiateRate(n int) (int, error)     { d.rate = n; return n, nil }
func (d *fakeDevice) NegotiateFormat(f yalsa.FormatType) (yalsa.FormatType, error) {
	d.format = f
	return f, nil
}
func (d *fakeDevice) NegotiatePeriodSize(n int) (int, error) { d.period = n; return n, nil }
func (d *fakeDevice) NegotiateBufferSize(n int) (int, error) { return n, nil }
func (d *fakeDevice) Prepare() error                         { return nil }
func (d *fakeDevice) Close() error                           { d.closed = true; return nil }

func (d *fakeDevice) Read(p []byte) error {
	if d.nRead >= len(d.reads) {
		return nil
	}
	err := d.reads[d.nRead]
	d.nRead++
	return err
}

func TestNegotiateReturnsGrantedParams(t *testing.T) {
	dev := &fakeDevice{}
	params, err := negotiate(dev, 44100, 2, yalsa.S16_LE)
	require.NoError(t, err)
	require.Equal(t, 2, params.channels)
	require.Equal(t, 44100, params.rate)
	require.Equal(t, yalsa.S16_LE, params.format)
	require.Greater(t, params.periodSize, 0)
}

func TestCaptureEmitsFormatThenData(t *testing.T) {
	dev := &fakeDevice{channels: 2, rate: 48000, format: yalsa.S16_LE, period: 240}
	out := packetstream.New(1<<20, false)

	c := newCapture(newTestLogger(), out, clock.New(), streamid.ID(1), dev, negotiatedParams{
		channels: 2, rate: 48000, format: yalsa.S16_LE, periodSize: 240,
	})

	c.setState(Running)
	require.NoError(t, c.runOnePeriod())
	require.NoError(t, c.runOnePeriod())
	c.Stop()
	out.Cancel()

	pkt1, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.AudioFormat, pkt1.Type)
	fmtMsg, err := message.UnmarshalAudioFormat(pkt1.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(48000), fmtMsg.Rate)
	require.Equal(t, uint32(2), fmtMsg.Channels)
	require.Equal(t, message.S16LE, fmtMsg.Format)

	pkt2, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.AudioData, pkt2.Type)
	dataMsg, err := message.UnmarshalAudioData(pkt2.Payload)
	require.NoError(t, err)
	require.Len(t, dataMsg.PCM, 240*2*2)

	pkt3, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.AudioData, pkt3.Type)
}

func TestRunIdleIgnoresInterruptWithSkipSet(t *testing.T) {
	dev := &fakeDevice{}
	out := packetstream.New(1<<16, false)
	c := newCapture(newTestLogger(), out, clock.New(), streamid.ID(1), dev, negotiatedParams{
		channels: 1, rate: 16000, format: yalsa.S16_LE, periodSize: 160,
	})

	c.SetSkip(true)
	require.NoError(t, c.runIdle())
	require.Equal(t, Idle, c.State(), "skip_data set should keep the thread in Idle")

	c.SetSkip(false)
	require.NoError(t, c.runIdle())
	require.Equal(t, Running, c.State())
}

func TestRunOnePeriodMovesToXrunOnEPIPE(t *testing.T) {
	dev := &fakeDevice{reads: []error{unix.EPIPE}}
	out := packetstream.New(1<<16, false)
	c := newCapture(newTestLogger(), out, clock.New(), streamid.ID(1), dev, negotiatedParams{
		channels: 1, rate: 16000, format: yalsa.S16_LE, periodSize: 160,
	})
	c.setState(Running)

	require.NoError(t, c.runOnePeriod())
	require.Equal(t, Xrun, c.State())

	c.runXrun()
	require.Equal(t, Running, c.State(), "xrun recovery should re-prepare and resume")
}

func TestRunOnePeriodMovesToSuspendedOnESTRPIPE(t *testing.T) {
	dev := &fakeDevice{reads: []error{unix.ESTRPIPE}}
	out := packetstream.New(1<<16, false)
	c := newCapture(newTestLogger(), out, clock.New(), streamid.ID(1), dev, negotiatedParams{
		channels: 1, rate: 16000, format: yalsa.S16_LE, periodSize: 160,
	})
	c.setState(Running)

	require.NoError(t, c.runOnePeriod())
	require.Equal(t, Suspended, c.State())
}

func TestRunOnePeriodDropsDataWhenAllowSkipAndBufferFull(t *testing.T) {
	dev := &fakeDevice{channels: 1, rate: 16000, format: yalsa.S16_LE, period: 160}
	// Big enough for the one-time AUDIO_FORMAT packet, too small for the
	// AUDIO_DATA period that follows it.
	out := packetstream.New(64, false)
	c := newCapture(newTestLogger(), out, clock.New(), streamid.ID(1), dev, negotiatedParams{
		channels: 1, rate: 16000, format: yalsa.S16_LE, periodSize: 160,
	})
	c.SetAllowSkip(true)
	c.setState(Running)

	require.NoError(t, c.runOnePeriod())
	out.Cancel()

	pkt, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.AudioFormat, pkt.Type)

	_, err = packetstream.ReadPacket(out)
	require.ErrorIs(t, err, packetstream.ErrCancelled, "the AUDIO_DATA period should have been dropped, not queued")
}

func TestStopTransitionsOutOfIdle(t *testing.T) {
	dev := &fakeDevice{}
	out := packetstream.New(1<<16, false)
	c := newCapture(newTestLogger(), out, clock.New(), streamid.ID(1), dev, negotiatedParams{
		channels: 1, rate: 16000, format: yalsa.S16_LE, periodSize: 160,
	})

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	c.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	require.True(t, dev.closed)
}
