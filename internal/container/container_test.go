package container

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/streamid"
)

func newTestLogger() *logging.Logger {
	return logging.NewLogger("test", &bytes.Buffer{})
}

// TestSinkSourceRoundTrip writes a small segment through Sink and reads
// it back through Source, checking that every packet's header and
// payload round-trip byte-exact.
func TestSinkSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.glc")

	in := packetstream.New(1<<20, false)
	sink := NewSink(newTestLogger(), in, "game", 60.0)
	require.NoError(t, sink.OpenTarget(path))
	require.NoError(t, sink.WriteInfo())

	videoFormat := message.VideoFormatMsg{ID: 1, Width: 64, Height: 48, PixelFormat: message.NewPixelFormat("BGR3")}
	frame := message.VideoFrameMsg{ID: 1, TimeNs: 1000, Pixels: bytes.Repeat([]byte{0xAB}, 64*48*3)}

	require.NoError(t, packetstream.WritePacket(in, message.VideoFormat, videoFormat.Marshal()))
	require.NoError(t, packetstream.WritePacket(in, message.VideoFrame, frame.Marshal()))
	require.NoError(t, packetstream.WritePacket(in, message.Close, nil))

	require.NoError(t, sink.Run())
	require.NoError(t, sink.CloseTarget())

	out := packetstream.New(1<<20, false)
	src := NewSource(newTestLogger(), out)
	require.NoError(t, src.OpenSource(path))

	h, name, _, err := src.ReadInfo()
	require.NoError(t, err)
	require.Equal(t, Signature, h.Signature)
	require.Equal(t, CurrentVersion, h.Version)
	require.Equal(t, "game", name)

	readErr := make(chan error, 1)
	go func() {
		readErr <- src.Read()
	}()

	pkt1, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.VideoFormat, pkt1.Type)
	gotFormat, err := message.UnmarshalVideoFormat(pkt1.Payload)
	require.NoError(t, err)
	require.Equal(t, videoFormat, gotFormat)

	pkt2, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.VideoFrame, pkt2.Type)
	gotFrame, err := message.UnmarshalVideoFrame(pkt2.Payload)
	require.NoError(t, err)
	require.Equal(t, frame.ID, gotFrame.ID)
	require.Equal(t, frame.TimeNs, gotFrame.TimeNs)
	require.Equal(t, frame.Pixels, gotFrame.Pixels)

	pkt3, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.Close, pkt3.Type)

	require.NoError(t, <-readErr)
	require.NoError(t, src.Destroy())
}

// TestStateTrackerReplay checks that the latest VIDEO_FORMAT and COLOR
// per stream id survive into a fresh segment even if the original
// packets predate it.
func TestStateTrackerReplay(t *testing.T) {
	st := NewStateTracker()

	older := message.VideoFormatMsg{ID: 1, Width: 640, Height: 480, PixelFormat: message.NewPixelFormat("BGR3")}
	newer := message.VideoFormatMsg{ID: 1, Width: 1280, Height: 720, PixelFormat: message.NewPixelFormat("BGR3")}
	st.Observe(message.Packet{Type: message.VideoFormat, Payload: older.Marshal()})
	st.Observe(message.Packet{Type: message.VideoFormat, Payload: newer.Marshal()})

	color := message.ColorMsg{ID: 1, Brightness: 0.1, Contrast: 1.0, Gamma: 2.2}
	st.Observe(message.Packet{Type: message.Color, Payload: color.Marshal()})

	replay := st.Replay()
	require.Len(t, replay, 2)

	var gotFormat message.VideoFormatMsg
	var gotColor message.ColorMsg
	for _, pkt := range replay {
		switch pkt.Type {
		case message.VideoFormat:
			var err error
			gotFormat, err = message.UnmarshalVideoFormat(pkt.Payload)
			require.NoError(t, err)
		case message.Color:
			var err error
			gotColor, err = message.UnmarshalColor(pkt.Payload)
			require.NoError(t, err)
		}
	}
	require.Equal(t, newer, gotFormat)
	require.Equal(t, color, gotColor)
}

// TestLegacyVersionTimestampNormalization checks that version 0x03/0x04
// files have their microsecond timestamps normalized to nanoseconds by
// multiplying by 1000, and that version 0x03's header-before-size record
// quirk is handled.
func TestLegacyVersionTimestampNormalization(t *testing.T) {
	var buf bytes.Buffer

	// Hand-encode one VersionA (0x03) record: header before size.
	data := message.AudioDataMsg{ID: 2, TimeNs: 500, PCM: []byte{1, 2, 3, 4}}.Marshal()
	w := message.NewWriter()
	w.WriteUint16(uint16(message.AudioData))
	w.WriteUint64(uint64(len(data)))
	w.WriteSlice(data)
	buf.Write(w.Bytes())

	pkt, err := readRecord(&buf, VersionA)
	require.NoError(t, err)
	require.Equal(t, message.AudioData, pkt.Type)

	got, err := message.UnmarshalAudioData(pkt.Payload)
	require.NoError(t, err)
	require.Equal(t, int64(500*1000), got.TimeNs)
	require.Equal(t, []byte{1, 2, 3, 4}, got.PCM)
}

// TestReloadReplaysFormats reopens the sink onto a fresh file mid-stream
// and checks the new file starts with every live format replayed before
// any data, so the resumed segment is self-contained.
func TestReloadReplaysFormats(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.glc")
	second := filepath.Join(dir, "b.glc")

	in := packetstream.New(1<<20, false)
	sink := NewSink(newTestLogger(), in, "game", 30)
	require.NoError(t, sink.OpenTarget(first))
	require.NoError(t, sink.WriteInfo())

	videoFormat1 := message.VideoFormatMsg{ID: 1, Width: 8, Height: 8, PixelFormat: message.NewPixelFormat("BGRA")}
	videoFormat2 := message.VideoFormatMsg{ID: 2, Width: 16, Height: 16, PixelFormat: message.NewPixelFormat("BGRA")}
	frame := func(id uint32, ts int64) []byte {
		return message.VideoFrameMsg{ID: streamid.ID(id), TimeNs: ts, Pixels: []byte{0}}.Marshal()
	}

	require.NoError(t, packetstream.WritePacket(in, message.VideoFormat, videoFormat1.Marshal()))
	require.NoError(t, packetstream.WritePacket(in, message.VideoFrame, frame(1, 1)))
	require.NoError(t, packetstream.WritePacket(in, message.VideoFormat, videoFormat2.Marshal()))
	require.NoError(t, packetstream.WritePacket(in, message.VideoFrame, frame(2, 2)))
	require.NoError(t, packetstream.WritePacket(in, message.Close, nil))
	require.NoError(t, sink.Run())

	require.NoError(t, sink.CloseTarget())
	require.NoError(t, sink.OpenTarget(second))
	require.NoError(t, sink.WriteInfo())
	require.NoError(t, sink.WriteState())
	require.NoError(t, sink.WriteEOF())
	require.NoError(t, sink.CloseTarget())

	out := packetstream.New(1<<20, false)
	src := NewSource(newTestLogger(), out)
	require.NoError(t, src.OpenSource(second))
	_, _, _, err := src.ReadInfo()
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() { readErr <- src.Read() }()

	seen := map[streamid.ID]message.VideoFormatMsg{}
	for {
		pkt, err := packetstream.ReadPacket(out)
		require.NoError(t, err)
		if pkt.Type == message.Close {
			break
		}
		require.Equal(t, message.VideoFormat, pkt.Type, "resumed segment should hold only replayed formats")
		m, err := message.UnmarshalVideoFormat(pkt.Payload)
		require.NoError(t, err)
		seen[m.ID] = m
	}
	require.NoError(t, <-readErr)
	require.Equal(t, map[streamid.ID]message.VideoFormatMsg{1: videoFormat1, 2: videoFormat2}, seen)
}

func TestOpenTargetCreatesFileWithMode0644(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.glc")

	in := packetstream.New(4096, false)
	sink := NewSink(newTestLogger(), in, "x", 30)
	require.NoError(t, sink.OpenTarget(path))
	defer sink.CloseTarget()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), info.Mode().Perm())
}
