// Package compress implements the packetwise compression stage: a Codec
// compresses and decompresses one packet payload at a time (never a
// continuous stream), and the pack/unpack worker.Filter pair that wraps
// VIDEO_FRAME/AUDIO_DATA packets above a size threshold.
package compress

import (
	"github.com/lanikai/glcs/internal/message"
)

// Codec compresses and decompresses individual packet payloads.
type Codec interface {
	// Type is the on-disk message type a compressed packet carries,
	// directly identifying which codec produced it (message.LZO,
	// message.QuickLZ, or message.LZJB).
	Type() message.Type

	// MaxCompressedLen returns the worst-case output size for an input
	// of n bytes, per each algorithm's own worst-case expansion formula.
	MaxCompressedLen(n int) int

	// Compress returns the compressed form of src.
	Compress(src []byte) ([]byte, error)

	// Decompress decodes src into dst, which must already be sized to
	// the declared uncompressed length.
	Decompress(dst, src []byte) error
}

// ByType returns the Codec registered for t, or nil if t does not name a
// compression algorithm.
func ByType(t message.Type) Codec {
	switch t {
	case message.LZO:
		return lzoCodec{}
	case message.QuickLZ:
		return quicklzCodec{}
	case message.LZJB:
		return lzjbCodec{}
	default:
		return nil
	}
}
