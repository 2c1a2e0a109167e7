package compress

import (
	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/message"
)

// quicklzCodec is a small clean-room LZ77 packet codec standing in for
// QuickLZ, which has no maintained Go binding. It trades compression
// ratio for simplicity: a greedy single-pass match finder over a flat
// hash table, emitting literal runs and back-references as tagged
// tokens.
type quicklzCodec struct{}

func (quicklzCodec) Type() message.Type { return message.QuickLZ }

// MaxCompressedLen is QuickLZ's worst-case expansion bound.
func (quicklzCodec) MaxCompressedLen(n int) int {
	return n + 400
}

const (
	qlzMinMatch = 3
	qlzMaxMatch = 130 // 0x7F + qlzMinMatch
	qlzMaxLit   = 128 // 0x7F + 1
	qlzMaxOff   = 1<<16 - 1
)

// Leading mode byte: incompressible payloads are stored verbatim, which
// keeps MaxCompressedLen an actual upper bound.
const (
	qlzStored byte = 0
	qlzPacked byte = 1
)

func (quicklzCodec) Compress(src []byte) ([]byte, error) {
	packed := qlzCompress(src)
	if len(packed) >= len(src) {
		return append([]byte{qlzStored}, src...), nil
	}
	return append([]byte{qlzPacked}, packed...), nil
}

func (quicklzCodec) Decompress(dst, src []byte) error {
	if len(src) == 0 {
		return errQuickLZTruncated
	}
	if src[0] == qlzStored {
		if len(src)-1 != len(dst) {
			return errQuickLZLength
		}
		copy(dst, src[1:])
		return nil
	}
	return qlzDecompress(dst, src[1:])
}

func qlzCompress(src []byte) []byte {
	n := len(src)
	dst := make([]byte, 0, n)
	hash := make(map[uint32]int, n/4+1)

	litStart := -1
	flushLiteral := func(end int) {
		for litStart >= 0 && litStart < end {
			run := end - litStart
			if run > qlzMaxLit {
				run = qlzMaxLit
			}
			dst = append(dst, byte(run-1))
			dst = append(dst, src[litStart:litStart+run]...)
			litStart += run
		}
		litStart = -1
	}

	i := 0
	for i < n {
		matched := false
		if i+4 <= n {
			key := uint32(src[i]) | uint32(src[i+1])<<8 | uint32(src[i+2])<<16 | uint32(src[i+3])<<24
			if pos, ok := hash[key]; ok {
				off := i - pos
				if off >= 1 && off <= qlzMaxOff {
					maxLen := qlzMaxMatch
					if n-i < maxLen {
						maxLen = n - i
					}
					matchLen := 0
					for matchLen < maxLen && src[pos+matchLen] == src[i+matchLen] {
						matchLen++
					}
					if matchLen >= qlzMinMatch {
						flushLiteral(i)
						dst = append(dst, 0x80|byte(matchLen-qlzMinMatch))
						dst = append(dst, byte(off), byte(off>>8))
						hash[key] = i
						i += matchLen
						matched = true
					}
				}
			}
			if !matched {
				hash[key] = i
			}
		}
		if !matched {
			if litStart < 0 {
				litStart = i
			}
			i++
		}
	}
	flushLiteral(i)
	return dst
}

var errQuickLZTruncated = errors.New("compress: quicklz truncated stream")
var errQuickLZLength = errors.New("compress: quicklz decompressed length mismatch")

func qlzDecompress(dst, src []byte) error {
	o, i := 0, 0
	for i < len(src) {
		tag := src[i]
		i++
		if tag&0x80 == 0 {
			run := int(tag) + 1
			if i+run > len(src) || o+run > len(dst) {
				return errQuickLZTruncated
			}
			copy(dst[o:o+run], src[i:i+run])
			i += run
			o += run
			continue
		}
		length := int(tag&0x7F) + qlzMinMatch
		if i+2 > len(src) {
			return errQuickLZTruncated
		}
		off := int(src[i]) | int(src[i+1])<<8
		i += 2
		pos := o - off
		if pos < 0 || o+length > len(dst) {
			return errQuickLZTruncated
		}
		for k := 0; k < length; k++ {
			dst[o+k] = dst[pos+k]
		}
		o += length
	}
	if o != len(dst) {
		return errQuickLZLength
	}
	return nil
}
