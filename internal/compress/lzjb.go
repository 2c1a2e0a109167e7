package compress

import (
	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/message"
)

// lzjbCodec is a Go reimplementation of the classic LZJB scheme, the
// small, control-byte-per-8-tokens LZ77 variant originally written for
// Solaris/ZFS metadata compression.
type lzjbCodec struct{}

func (lzjbCodec) Type() message.Type { return message.LZJB }

// MaxCompressedLen is LZJB's worst-case expansion bound, identical in
// form to LZO's.
func (lzjbCodec) MaxCompressedLen(n int) int {
	return n + n/16 + 64 + 3
}

const (
	lzjbMatchBits  = 6
	lzjbMatchMin   = 3
	lzjbMatchMax   = (1 << lzjbMatchBits) + lzjbMatchMin - 1 // 66
	lzjbOffsetBits = 16 - lzjbMatchBits                      // 10: total width of the packed offset
	lzjbOffsetMask = (1 << lzjbOffsetBits) - 1               // 1023: largest representable offset
	lzjbByteShift  = 8 - lzjbMatchBits                       // 2: shift used when packing byte0
	lzjbByteMask   = (1 << lzjbByteShift) - 1                // 3: byte0's low bits hold offset's high bits
	lzjbTableSize  = 1024
)

// Leading mode byte, as in quicklzCodec: incompressible payloads are
// stored verbatim so MaxCompressedLen is an actual upper bound.
const (
	lzjbStored byte = 0
	lzjbPacked byte = 1
)

func (lzjbCodec) Compress(src []byte) ([]byte, error) {
	packed := lzjbCompress(src)
	if len(packed) >= len(src) {
		return append([]byte{lzjbStored}, src...), nil
	}
	return append([]byte{lzjbPacked}, packed...), nil
}

func (lzjbCodec) Decompress(dst, src []byte) error {
	if len(src) == 0 {
		return errLZJBTruncated
	}
	if src[0] == lzjbStored {
		if len(src)-1 != len(dst) {
			return errLZJBTruncated
		}
		copy(dst, src[1:])
		return nil
	}
	return lzjbDecompress(dst, src[1:])
}

// lzjbHash only selects a hash-table bucket; every candidate is verified
// byte-for-byte before use, so hash quality affects ratio, not
// correctness.
func lzjbHash(a, b, c byte) uint32 {
	h := uint32(a)<<16 | uint32(b)<<8 | uint32(c)
	h = (h << 4) ^ h ^ (h >> 10)
	return h & (lzjbTableSize - 1)
}

func lzjbCompress(src []byte) []byte {
	n := len(src)
	dst := make([]byte, 0, n)
	table := make([]int, lzjbTableSize) // 0 means empty; stored index+1

	i := 0
	var copymask byte = 0x80
	copymap := -1

	for i < n {
		copymask <<= 1
		if copymask == 0 {
			copymask = 1
			dst = append(dst, 0)
			copymap = len(dst) - 1
		}

		matched := false
		if n-i >= lzjbMatchMin {
			h := lzjbHash(src[i], src[i+1], src[i+2])
			candidate := table[h] - 1
			table[h] = i + 1
			if candidate >= 0 {
				offset := i - candidate - 1
				if offset <= lzjbOffsetMask &&
					src[candidate] == src[i] &&
					src[candidate+1] == src[i+1] &&
					src[candidate+2] == src[i+2] {
					maxLen := lzjbMatchMax
					if n-i < maxLen {
						maxLen = n - i
					}
					matchLen := lzjbMatchMin
					for matchLen < maxLen && src[candidate+matchLen] == src[i+matchLen] {
						matchLen++
					}
					dst[copymap] |= copymask
					dst = append(dst,
						byte(((matchLen-lzjbMatchMin)<<lzjbByteShift)|(offset>>8)),
						byte(offset))
					i += matchLen
					matched = true
				}
			}
		}
		if !matched {
			dst = append(dst, src[i])
			i++
		}
	}
	return dst
}

var errLZJBTruncated = errors.New("compress: lzjb truncated stream")

func lzjbDecompress(dst, src []byte) error {
	s, d := 0, 0
	var copymask byte = 0x80
	var copymapByte byte

	for d < len(dst) {
		copymask <<= 1
		if copymask == 0 {
			copymask = 1
			if s >= len(src) {
				return errLZJBTruncated
			}
			copymapByte = src[s]
			s++
		}

		if copymapByte&copymask != 0 {
			if s+2 > len(src) {
				return errLZJBTruncated
			}
			b0, b1 := src[s], src[s+1]
			s += 2
			matchLen := int(b0>>lzjbByteShift) + lzjbMatchMin
			offset := (int(b0&lzjbByteMask) << 8) | int(b1)
			pos := d - offset - 1
			if pos < 0 || d+matchLen > len(dst) {
				return errLZJBTruncated
			}
			for k := 0; k < matchLen; k++ {
				dst[d+k] = dst[pos+k]
			}
			d += matchLen
		} else {
			if s >= len(src) {
				return errLZJBTruncated
			}
			dst[d] = src[s]
			s++
			d++
		}
	}
	return nil
}
