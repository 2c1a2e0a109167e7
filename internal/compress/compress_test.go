package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/worker"
)

func allCodecs() []Codec {
	return []Codec{lzoCodec{}, quicklzCodec{}, lzjbCodec{}}
}

func TestCodecRoundTripRandom(t *testing.T) {
	for _, c := range allCodecs() {
		c := c
		t.Run(c.Type().String(), func(t *testing.T) {
			src := make([]byte, 1<<20)
			rand.New(rand.NewSource(42)).Read(src)

			compressed, err := c.Compress(src)
			require.NoError(t, err)
			require.LessOrEqual(t, len(compressed), c.MaxCompressedLen(len(src)))

			dst := make([]byte, len(src))
			require.NoError(t, c.Decompress(dst, compressed))
			require.Equal(t, src, dst)
		})
	}
}

func TestCodecRoundTripRepetitive(t *testing.T) {
	for _, c := range allCodecs() {
		c := c
		t.Run(c.Type().String(), func(t *testing.T) {
			src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 4096)

			compressed, err := c.Compress(src)
			require.NoError(t, err)
			require.Less(t, len(compressed), len(src), "repetitive input should compress smaller")

			dst := make([]byte, len(src))
			require.NoError(t, c.Decompress(dst, compressed))
			require.Equal(t, src, dst)
		})
	}
}

func TestCodecRoundTripEmpty(t *testing.T) {
	for _, c := range allCodecs() {
		compressed, err := c.Compress(nil)
		require.NoError(t, err)
		dst := make([]byte, 0)
		require.NoError(t, c.Decompress(dst, compressed))
	}
}

// TestPackUnpackIdentity checks that pack followed by unpack reproduces
// the original packet, for every codec and representative packet types.
func TestPackUnpackIdentity(t *testing.T) {
	for _, c := range allCodecs() {
		c := c
		t.Run(c.Type().String(), func(t *testing.T) {
			payload := make([]byte, 1<<20)
			rand.New(rand.NewSource(7)).Read(payload)

			pack := NewPackFilter(c, 0)
			unpack := &UnpackFilter{}

			ps := &worker.State{Header: message.VideoFrame}
			require.NoError(t, pack.Read(ps, payload))
			outType, outPayload, err := pack.Write(ps)
			require.NoError(t, err)
			require.Equal(t, c.Type(), outType)

			us := &worker.State{Header: outType}
			require.NoError(t, unpack.Read(us, outPayload))
			finalType, finalPayload, err := unpack.Write(us)
			require.NoError(t, err)
			require.Equal(t, message.VideoFrame, finalType)
			require.Equal(t, payload, finalPayload)
		})
	}
}

func TestPackCopyThroughBelowMinSize(t *testing.T) {
	pack := NewPackFilter(lzoCodec{}, 1024)
	payload := []byte("short")

	s := &worker.State{Header: message.AudioData}
	require.NoError(t, pack.Read(s, payload))
	outType, outPayload, err := pack.Write(s)
	require.NoError(t, err)
	require.Equal(t, message.AudioData, outType)
	require.Equal(t, payload, outPayload)
}

func TestPackCopyThroughForOtherTypes(t *testing.T) {
	pack := NewPackFilter(lzoCodec{}, 0)
	payload := bytes.Repeat([]byte{1, 2, 3}, 1000)

	s := &worker.State{Header: message.VideoFormat}
	require.NoError(t, pack.Read(s, payload))
	outType, outPayload, err := pack.Write(s)
	require.NoError(t, err)
	require.Equal(t, message.VideoFormat, outType)
	require.Equal(t, payload, outPayload)
}

func TestUnpackCopyThroughUncompressedType(t *testing.T) {
	unpack := &UnpackFilter{}
	payload := []byte("plain payload")

	s := &worker.State{Header: message.AudioData}
	require.NoError(t, unpack.Read(s, payload))
	outType, outPayload, err := unpack.Write(s)
	require.NoError(t, err)
	require.Equal(t, message.AudioData, outType)
	require.Equal(t, payload, outPayload)
}
