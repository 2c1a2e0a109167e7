//go:build linux

package alsaplayback

import (
	"github.com/pkg/errors"
	yalsa "github.com/yobert/alsa"
)

// pcmDevice is the subset of *yalsa.Device the player needs, narrowed to
// an interface so tests can exercise the consumer against a fake without
// opening real hardware.
type pcmDevice interface {
	NegotiateChannels(n int) (int, error)
	NegotiateRate(n int) (int, error)
	NegotiateFormat(f yalsa.FormatType) (yalsa.FormatType, error)
	NegotiatePeriodSize(n int) (int, error)
	NegotiateBufferSize(n int) (int, error)
	Prepare() error
	Write(p []byte) error
	Close() error
}

// openPlaybackDevice finds and opens the first playback-capable PCM
// device whose title matches name ("" selects the first one found),
// mirroring alsacapture's openDevice but filtered on dev.Play instead of
// dev.Record.
func openPlaybackDevice(name string) (pcmDevice, error) {
	cards, err := yalsa.OpenCards()
	if err != nil {
		return nil, errors.Wrap(err, "alsaplayback: open sound cards")
	}
	defer yalsa.CloseCards(cards)

	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, dev := range devices {
			if dev.Type != yalsa.PCM || !dev.Play {
				continue
			}
			if name != "" && dev.Title != name {
				continue
			}
			if err := dev.Open(); err != nil {
				return nil, errors.Wrap(err, "alsaplayback: open device")
			}
			return deviceAdapter{dev}, nil
		}
	}
	return nil, errors.Errorf("alsaplayback: no playback device found matching %q", name)
}

// deviceAdapter narrows *yalsa.Device to pcmDevice, adapting the methods
// whose signatures the installed yobert/alsa version doesn't match
// exactly: Close (no error return), the Negotiate* methods (variadic on
// this version, called here with a single value), and Write (which also
// takes an explicit frame count, computed here the same way
// yalsa.Device.Read does internally).
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

func (d deviceAdapter) Write(p []byte) error {
	return d.Device.Write(p, len(p)/d.Device.BytesPerFrame())
}

// negotiatePlayback requests the given hardware parameters, the same
// negotiation sequence alsacapture.negotiate uses for the record
// direction, granting whatever the device actually supports.
func negotiatePlayback(dev pcmDevice, wantRate, wantChannels int, wantFormat yalsa.FormatType) (negotiatedParams, error) {
	var p negotiatedParams
	var err error

	p.channels, err = dev.NegotiateChannels(wantChannels)
	if err != nil {
		return p, errors.Wrap(err, "alsaplayback: negotiate channels")
	}

	p.rate, err = dev.NegotiateRate(wantRate)
	if err != nil {
		return p, errors.Wrap(err, "alsaplayback: negotiate rate")
	}

	p.format, err = dev.NegotiateFormat(wantFormat)
	if err != nil {
		return p, errors.Wrap(err, "alsaplayback: negotiate format")
	}

	const wantPeriodSeconds = 0.05
	wantPeriodSize := int(float64(p.rate) * wantPeriodSeconds)
	p.periodSize, err = dev.NegotiatePeriodSize(wantPeriodSize)
	if err != nil {
		return p, errors.Wrap(err, "alsaplayback: negotiate period size")
	}

	if _, err := dev.NegotiateBufferSize(p.periodSize * 4); err != nil {
		return p, errors.Wrap(err, "alsaplayback: negotiate buffer size")
	}

	return p, dev.Prepare()
}

// negotiatedParams is what's actually granted by the hardware after
// negotiation.
type negotiatedParams struct {
	channels   int
	rate       int
	format     yalsa.FormatType
	periodSize int
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
