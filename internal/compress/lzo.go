package compress

import (
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/message"
)

// lzoCodec is GLCS's "LZO" slot, backed by klauspost/compress/s2: a
// fast, byte-oriented block codec in the same performance niche as LZO.
// There is no maintained Go LZO binding, so the LZO message type keeps
// its name while the bytes inside are s2 blocks.
type lzoCodec struct{}

func (lzoCodec) Type() message.Type { return message.LZO }

// MaxCompressedLen is LZO's standard worst-case expansion bound.
func (lzoCodec) MaxCompressedLen(n int) int {
	return n + n/16 + 64 + 3
}

func (lzoCodec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, s2.MaxEncodedLen(len(src)))
	return s2.Encode(dst, src), nil
}

func (lzoCodec) Decompress(dst, src []byte) error {
	out, err := s2.Decode(dst, src)
	if err != nil {
		return errors.Wrap(err, "compress: lzo decode")
	}
	if len(out) != len(dst) {
		return errors.Errorf("compress: lzo decompressed length mismatch: got %d want %d", len(out), len(dst))
	}
	if len(out) > 0 {
		copy(dst, out)
	}
	return nil
}
