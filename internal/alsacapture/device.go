//go:build linux

package alsacapture

import (
	"github.com/pkg/errors"
	yalsa "github.com/yobert/alsa"
)

// pcmDevice is the subset of *yalsa.Device the capture state machine
// needs, narrowed to an interface so tests can drive the state machine
// against a fake without opening real hardware.
type pcmDevice interface {
	NegotiateChannels(n int) (int, error)
	NegotiateRate(n int) (int, error)
	NegotiateFormat(f yalsa.FormatType) (yalsa.FormatType, error)
	NegotiatePeriodSize(n int) (int, error)
	NegotiateBufferSize(n int) (int, error)
	Prepare() error
	Read(p []byte) error
	Close() error
}

// openDevice finds and opens the first recording-capable PCM device
// whose title matches name ("" selects the first one found).
func openDevice(name string) (pcmDevice, error) {
	cards, err := yalsa.OpenCards()
	if err != nil {
		return nil, errors.Wrap(err, "alsacapture: open sound cards")
	}
	defer yalsa.CloseCards(cards)

	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, dev := range devices {
			if dev.Type != yalsa.PCM || !dev.Record {
				continue
			}
			if name != "" && dev.Title != name {
				continue
			}
			if err := dev.Open(); err != nil {
				return nil, errors.Wrap(err, "alsacapture: open device")
			}
			return deviceAdapter{dev}, nil
		}
	}
	return nil, errors.Errorf("alsacapture: no recording device found matching %q", name)
}

// deviceAdapter narrows *yalsa.Device to pcmDevice, adapting Close (the
// installed yobert/alsa version's Close has no return value) and the
// Negotiate* methods (variadic on this version, called here with a
// single value).
type deviceAdapter struct {
	*yalsa.Device
}

func (d deviceAdapter) Close() error {
	d.Device.Close()
	return nil
}

func (d deviceAdapter) NegotiateChannels(n int) (int, error) {
	return d.Device.NegotiateChannels(n)
}

func (d deviceAdapter) NegotiateRate(n int) (int, error) {
	return d.Device.NegotiateRate(n)
}

func (d deviceAdapter) NegotiateFormat(f yalsa.FormatType) (yalsa.FormatType, error) {
	return d.Device.NegotiateFormat(f)
}

func (d deviceAdapter) NegotiatePeriodSize(n int) (int, error) {
	return d.Device.NegotiatePeriodSize(n)
}

func (d deviceAdapter) NegotiateBufferSize(n int) (int, error) {
	return d.Device.NegotiateBufferSize(n)
}

// negotiatedParams is what's actually granted by the hardware after
// negotiation, which may differ from what was requested.
type negotiatedParams struct {
	channels   int
	rate       int
	format     yalsa.FormatType
	periodSize int
}

// negotiate requests the given hardware parameters (format, interleaved
// access, rate, channels, period size, buffer capped at 500ms) and
// returns what was actually granted.
func negotiate(dev pcmDevice, wantRate, wantChannels int, wantFormat yalsa.FormatType) (negotiatedParams, error) {
	var p negotiatedParams
	var err error

	p.channels, err = dev.NegotiateChannels(wantChannels)
	if err != nil {
		return p, errors.Wrap(err, "alsacapture: negotiate channels")
	}

	p.rate, err = dev.NegotiateRate(wantRate)
	if err != nil {
		return p, errors.Wrap(err, "alsacapture: negotiate rate")
	}

	p.format, err = dev.NegotiateFormat(wantFormat)
	if err != nil {
		return p, errors.Wrap(err, "alsacapture: negotiate format")
	}

	// A 50ms period is a reasonable default latency target; buffer is
	// sized to four periods, comfortably under the 500ms cap.
	const wantPeriodSeconds = 0.05
	wantPeriodSize := int(float64(p.rate) * wantPeriodSeconds)
	p.periodSize, err = dev.NegotiatePeriodSize(wantPeriodSize)
	if err != nil {
		return p, errors.Wrap(err, "alsacapture: negotiate period size")
	}

	bufSize, err := dev.NegotiateBufferSize(p.periodSize * 4)
	if err != nil {
		return p, errors.Wrap(err, "alsacapture: negotiate buffer size")
	}
	bufMs := 1000 * bufSize / (p.rate)
	if bufMs > 500 {
		return p, errors.Errorf("alsacapture: negotiated buffer %dms exceeds 500ms cap", bufMs)
	}

	return p, dev.Prepare()
}

func formatBytesPerSample(f yalsa.FormatType) int {
	switch f {
	case yalsa.S16_LE:
		return 2
	case yalsa.S32_LE:
		return 4
	default:
		return 2
	}
}
