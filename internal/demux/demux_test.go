package demux

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/streamid"
)

func newTestLogger() *logging.Logger {
	return logging.NewLogger("test", &bytes.Buffer{})
}

// recordingConsumer drains its buffer, appending every packet type it
// sees to types, until CLOSE or cancellation, then signals finished.
type recordingConsumer struct {
	buf      *packetstream.Buffer
	types    []message.Type
	finished chan struct{}
}

func (c *recordingConsumer) Run() error {
	defer close(c.finished)
	for {
		pkt, err := packetstream.ReadPacket(c.buf)
		if err != nil {
			return err
		}
		c.types = append(c.types, pkt.Type)
		if pkt.Type == message.Close {
			return nil
		}
	}
}

func TestDemuxRoutesByIDAndKind(t *testing.T) {
	in := packetstream.New(1<<20, false)

	var mu sync.Mutex
	consumers := make(map[streamid.ID]*recordingConsumer)

	factory := func(id streamid.ID, out *packetstream.Buffer) Consumer {
		c := &recordingConsumer{buf: out, finished: make(chan struct{})}
		mu.Lock()
		consumers[id] = c
		mu.Unlock()
		return c
	}

	d := New(newTestLogger(), in, 4096, factory, factory)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	videoFormat := message.VideoFormatMsg{ID: 1, Width: 4, Height: 4, PixelFormat: message.NewPixelFormat("BGR3")}
	audioFormat := message.AudioFormatMsg{ID: 2, Rate: 44100, Channels: 2, Format: 1}

	require.NoError(t, packetstream.WritePacket(in, message.VideoFormat, videoFormat.Marshal()))
	require.NoError(t, packetstream.WritePacket(in, message.AudioFormat, audioFormat.Marshal()))
	require.NoError(t, packetstream.WritePacket(in, message.VideoFrame, message.VideoFrameMsg{ID: 1, TimeNs: 1, Pixels: []byte{1, 2, 3}}.Marshal()))
	require.NoError(t, packetstream.WritePacket(in, message.Close, nil))

	require.NoError(t, <-done)

	mu.Lock()
	video, audio := consumers[1], consumers[2]
	mu.Unlock()
	require.NotNil(t, video)
	require.NotNil(t, audio)

	<-video.finished
	<-audio.finished

	require.Equal(t, []message.Type{message.VideoFormat, message.VideoFrame, message.Close}, video.types)
	require.Equal(t, []message.Type{message.AudioFormat, message.Close}, audio.types)
}

// TestDemuxReapsInterruptedSubStream verifies a sub-stream whose consumer
// has exited is cleaned up and rebuilt on the next packet for that id.
func TestDemuxReapsInterruptedSubStream(t *testing.T) {
	in := packetstream.New(1<<20, false)

	created := make(chan *recordingConsumer, 8)
	factory := func(id streamid.ID, out *packetstream.Buffer) Consumer {
		c := &recordingConsumer{buf: out, finished: make(chan struct{})}
		// Exit immediately, simulating a consumer that errored out.
		out.Cancel()
		created <- c
		return c
	}

	d := New(newTestLogger(), in, 4096, factory, func(streamid.ID, *packetstream.Buffer) Consumer {
		return consumerFunc(func() error { return nil })
	})

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	videoFormat := message.VideoFormatMsg{ID: 1, Width: 4, Height: 4, PixelFormat: message.NewPixelFormat("BGR3")}
	require.NoError(t, packetstream.WritePacket(in, message.VideoFormat, videoFormat.Marshal()))

	first := <-created
	<-first.finished
	require.Eventually(t, func() bool {
		d.mu.Lock()
		sub, ok := d.video[1]
		d.mu.Unlock()
		return ok && atomic.LoadInt32(&sub.done) != 0
	}, time.Second, time.Millisecond, "sub-stream should be marked done after its consumer exits")

	require.NoError(t, packetstream.WritePacket(in, message.VideoFormat, videoFormat.Marshal()))
	second := <-created

	require.NoError(t, packetstream.WritePacket(in, message.Close, nil))
	require.NoError(t, <-done)

	require.NotSame(t, first, second, "second VIDEO_FORMAT for id 1 should rebuild a reaped sub-stream")
}

// consumerFunc adapts a plain func into a Consumer.
type consumerFunc func() error

func (f consumerFunc) Run() error { return f() }
