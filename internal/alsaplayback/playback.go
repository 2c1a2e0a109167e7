//go:build linux

// Package alsaplayback implements an ALSA audio player consumer for
// demux.Demux's audio sub-streams: it negotiates a playback-capable PCM
// device on the first AUDIO_FORMAT it sees and writes every following
// AUDIO_DATA's PCM bytes to the device until CLOSE, inserting silence to
// cover any gap longer than a configurable threshold (the player's
// -l/--silence flag).
package alsaplayback

import (
	"time"

	"github.com/pkg/errors"
	yalsa "github.com/yobert/alsa"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
)

// Player drains one audio sub-stream buffer and writes it to an ALSA
// playback device, implementing demux.Consumer.
type Player struct {
	log        *logging.Logger
	in         *packetstream.Buffer
	deviceName string
	silence    time.Duration

	dev           pcmDevice
	opened        bool
	bytesPerFrame int
	rate          int
	havePrevEnd   bool
	prevEndNs     int64
}

// NewPlayer constructs a Player reading from in. deviceName selects the
// ALSA device by title ("" picks the first playback-capable device
// found), matching the CLI's -d/--alsa-device flag. silence is the
// minimum gap between consecutive AUDIO_DATA timestamps that gets
// covered with inserted silence rather than played back-to-back
// (the player's -l/--silence SEC flag); zero disables gap-filling.
func NewPlayer(log *logging.Logger, in *packetstream.Buffer, deviceName string, silence time.Duration) *Player {
	return &Player{log: log, in: in, deviceName: deviceName, silence: silence}
}

// Run implements demux.Consumer: it drains in until CLOSE or
// cancellation, opening the playback device on the first AUDIO_FORMAT.
func (p *Player) Run() error {
	defer func() {
		if p.dev != nil {
			p.dev.Close()
		}
	}()

	for {
		pkt, err := packetstream.ReadPacket(p.in)
		if err != nil {
			if packetstream.IsCancelled(err) {
				return nil
			}
			return err
		}

		switch pkt.Type {
		case message.AudioFormat:
			fmtMsg, err := message.UnmarshalAudioFormat(pkt.Payload)
			if err != nil {
				return errors.Wrap(err, "alsaplayback: decode AUDIO_FORMAT")
			}
			if err := p.open(fmtMsg); err != nil {
				return errors.Wrap(err, "alsaplayback: open device")
			}
		case message.AudioData:
			dataMsg, err := message.UnmarshalAudioData(pkt.Payload)
			if err != nil {
				return errors.Wrap(err, "alsaplayback: decode AUDIO_DATA")
			}
			if !p.opened {
				p.log.Warn("alsaplayback: AUDIO_DATA before AUDIO_FORMAT, dropping")
				continue
			}
			p.fillGap(dataMsg.TimeNs)
			if err := p.dev.Write(dataMsg.PCM); err != nil {
				p.log.Warn("alsaplayback: write: %v", err)
			}
			p.prevEndNs = dataMsg.TimeNs + p.durationNs(len(dataMsg.PCM))
			p.havePrevEnd = true
		case message.Close:
			return nil
		}
	}
}

// fillGap writes silence to cover the interval between the previous
// packet's end and startNs, if it exceeds the configured threshold.
func (p *Player) fillGap(startNs int64) {
	if p.silence <= 0 || !p.havePrevEnd {
		return
	}
	gap := startNs - p.prevEndNs
	if gap <= p.silence.Nanoseconds() {
		return
	}
	frames := int(float64(gap) / 1e9 * float64(p.rate))
	if frames <= 0 {
		return
	}
	silence := make([]byte, frames*p.bytesPerFrame)
	if err := p.dev.Write(silence); err != nil {
		p.log.Warn("alsaplayback: write silence: %v", err)
	}
}

func (p *Player) durationNs(pcmBytes int) int64 {
	if p.bytesPerFrame == 0 || p.rate == 0 {
		return 0
	}
	frames := pcmBytes / p.bytesPerFrame
	return int64(frames) * int64(time.Second) / int64(p.rate)
}

func (p *Player) open(fmtMsg message.AudioFormatMsg) error {
	// A replayed or updated AUDIO_FORMAT renegotiates from scratch.
	if p.opened {
		p.dev.Close()
		p.dev = nil
		p.opened = false
	}
	dev, err := openPlaybackDevice(p.deviceName)
	if err != nil {
		return err
	}
	wantFormat := yalsa.S16_LE
	if fmtMsg.Format == message.S32LE || fmtMsg.Format == message.S24LE {
		wantFormat = yalsa.S32_LE
	}
	params, err := negotiatePlayback(dev, int(fmtMsg.Rate), int(fmtMsg.Channels), wantFormat)
	if err != nil {
		dev.Close()
		return err
	}
	p.dev = dev
	p.opened = true
	p.rate = params.rate
	p.bytesPerFrame = params.channels * formatBytesPerSample(params.format)
	return nil
}
