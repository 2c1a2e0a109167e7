// Package demux implements the demultiplexer that fans a merged
// post-decode stream out to per-stream-id sub-streams, each with its own
// buffer and single-threaded consumer (video -> OpenGL player, audio ->
// ALSA player).
//
// Data packets are routed to the one sub-stream their id names; only
// CLOSE is broadcast to every live sub-stream.
package demux

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/streamid"
)

// Consumer drains a sub-stream's buffer, e.g. an OpenGL or ALSA player.
// Run returning marks the sub-stream interrupted, so its entry is cleaned
// up at the next routing attempt.
type Consumer interface {
	Run() error
}

// ConsumerFactory constructs the consumer for a newly seen stream id,
// reading from out.
type ConsumerFactory func(id streamid.ID, out *packetstream.Buffer) Consumer

type subStream struct {
	buf  *packetstream.Buffer
	done int32
}

// Demux reads a merged stream and maintains the video and audio
// sub-stream maps, each keyed by stream id.
type Demux struct {
	log *logging.Logger
	in  *packetstream.Buffer

	newVideoConsumer ConsumerFactory
	newAudioConsumer ConsumerFactory

	bufferCapacity int

	mu    sync.Mutex
	video map[streamid.ID]*subStream
	audio map[streamid.ID]*subStream
}

// New constructs a Demux. bufferCapacity sizes every sub-stream's buffer.
func New(log *logging.Logger, in *packetstream.Buffer, bufferCapacity int, newVideoConsumer, newAudioConsumer ConsumerFactory) *Demux {
	return &Demux{
		log:              log,
		in:               in,
		newVideoConsumer: newVideoConsumer,
		newAudioConsumer: newAudioConsumer,
		bufferCapacity:   bufferCapacity,
		video:            make(map[streamid.ID]*subStream),
		audio:            make(map[streamid.ID]*subStream),
	}
}

// Run dispatches packets until CLOSE or cancellation: VIDEO_* routed by
// id to the video map, AUDIO_* to the audio map, creating (and starting
// the consumer for) a sub-stream on first sight; CLOSE is broadcast to
// every live sub-stream.
func (d *Demux) Run() error {
	for {
		pkt, err := packetstream.ReadPacket(d.in)
		if err != nil {
			if packetstream.IsCancelled(err) {
				d.broadcastClose()
				return nil
			}
			return err
		}

		switch pkt.Type {
		case message.VideoFormat, message.VideoFrame:
			if err := d.route(d.video, d.newVideoConsumer, pkt); err != nil {
				d.log.Warn("demux: %v", err)
			}
		case message.AudioFormat, message.AudioData:
			if err := d.route(d.audio, d.newAudioConsumer, pkt); err != nil {
				d.log.Warn("demux: %v", err)
			}
		case message.Close:
			d.broadcastClose()
			return nil
		}
	}
}

func (d *Demux) route(m map[streamid.ID]*subStream, newConsumer ConsumerFactory, pkt message.Packet) error {
	id, err := message.PeekStreamID(pkt.Payload)
	if err != nil {
		return errors.Wrap(err, "peek stream id")
	}

	d.mu.Lock()
	d.reapLocked(m)
	sub, ok := m[id]
	if !ok {
		sub = &subStream{buf: packetstream.New(d.bufferCapacity, false)}
		m[id] = sub
		d.spawnConsumer(sub, id, newConsumer)
	}
	d.mu.Unlock()

	return packetstream.WritePacket(sub.buf, pkt.Type, pkt.Payload)
}

// spawnConsumer starts the consumer goroutine for a freshly created
// sub-stream and marks it done when the consumer exits, so the next
// routing attempt can reap it.
func (d *Demux) spawnConsumer(sub *subStream, id streamid.ID, newConsumer ConsumerFactory) {
	consumer := newConsumer(id, sub.buf)
	go func() {
		if err := consumer.Run(); err != nil {
			d.log.Warn("demux: consumer for stream %d exited: %v", id, err)
		}
		atomic.StoreInt32(&sub.done, 1)
		sub.buf.Cancel()
	}()
}

// reapLocked removes every sub-stream whose consumer has already exited.
// Caller must hold d.mu.
func (d *Demux) reapLocked(m map[streamid.ID]*subStream) {
	for id, sub := range m {
		if atomic.LoadInt32(&sub.done) != 0 {
			delete(m, id)
		}
	}
}

// broadcastClose writes CLOSE to every live sub-stream's buffer, video
// then audio.
func (d *Demux) broadcastClose() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sub := range d.video {
		packetstream.WritePacket(sub.buf, message.Close, nil)
	}
	for _, sub := range d.audio {
		packetstream.WritePacket(sub.buf, message.Close, nil)
	}
}
