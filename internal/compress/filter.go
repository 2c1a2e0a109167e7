package compress

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/worker"
)

// DefaultMinSize is the default payload-size threshold below which pack
// copies a packet through unchanged: compressing a small payload tends to
// cost more than it saves.
const DefaultMinSize = 1024

// PackFilter is the "pack" worker: for VIDEO_FRAME/AUDIO_DATA packets
// whose payload is at least MinSize bytes, it replaces the packet with
// one carrying Codec's message type and a CompressedMsg payload; every
// other packet is copied through unchanged.
type PackFilter struct {
	worker.BaseFilter

	Codec   Codec
	MinSize int

	// Log, when set, receives the final compression ratio from Finish.
	Log *logging.Logger

	inBytes  uint64
	outBytes uint64
}

// NewPackFilter constructs a PackFilter. minSize <= 0 selects
// DefaultMinSize.
func NewPackFilter(codec Codec, minSize int) *PackFilter {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &PackFilter{Codec: codec, MinSize: minSize}
}

func (f *PackFilter) Read(s *worker.State, payload []byte) error {
	s.Scratch = append([]byte(nil), payload...)
	return nil
}

func (f *PackFilter) Write(s *worker.State) (message.Type, []byte, error) {
	payload, _ := s.Scratch.([]byte)

	compressible := s.Header == message.VideoFrame || s.Header == message.AudioData
	if !compressible || len(payload) < f.MinSize {
		return s.Header, payload, nil
	}

	compressed, err := f.Codec.Compress(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "compress: pack")
	}
	atomic.AddUint64(&f.inBytes, uint64(len(payload)))
	atomic.AddUint64(&f.outBytes, uint64(len(compressed)))
	wrapper := message.CompressedMsg{
		UncompressedSize: uint64(len(payload)),
		OriginalHeader:   s.Header,
		Compressed:       compressed,
	}
	return f.Codec.Type(), wrapper.Marshal(), nil
}

// Finish logs the overall compression ratio once every worker has exited.
func (f *PackFilter) Finish() {
	in := atomic.LoadUint64(&f.inBytes)
	out := atomic.LoadUint64(&f.outBytes)
	if f.Log != nil && in > 0 {
		f.Log.Info("compress: packed %d bytes into %d (%.1f%%)", in, out, 100*float64(out)/float64(in))
	}
}

// UnpackFilter is the inverse of PackFilter: on LZO/QUICKLZ/LZJB packets
// it restores the original header and decompresses into a buffer sized
// by the wrapper's declared uncompressed length; every other packet is
// copied through unchanged.
type UnpackFilter struct {
	worker.BaseFilter

	// Log, when set, receives the final expansion ratio from Finish.
	Log *logging.Logger

	inBytes  uint64
	outBytes uint64
}

func (f *UnpackFilter) Read(s *worker.State, payload []byte) error {
	s.Scratch = append([]byte(nil), payload...)
	return nil
}

func (f *UnpackFilter) Write(s *worker.State) (message.Type, []byte, error) {
	payload, _ := s.Scratch.([]byte)

	codec := ByType(s.Header)
	if codec == nil {
		return s.Header, payload, nil
	}

	wrapper, err := message.UnmarshalCompressed(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "compress: unpack decode wrapper")
	}
	out := make([]byte, wrapper.UncompressedSize)
	if err := codec.Decompress(out, wrapper.Compressed); err != nil {
		return 0, nil, errors.Wrap(err, "compress: unpack decompress")
	}
	atomic.AddUint64(&f.inBytes, uint64(len(wrapper.Compressed)))
	atomic.AddUint64(&f.outBytes, uint64(len(out)))
	return wrapper.OriginalHeader, out, nil
}

// Finish logs the overall expansion ratio once every worker has exited.
func (f *UnpackFilter) Finish() {
	in := atomic.LoadUint64(&f.inBytes)
	out := atomic.LoadUint64(&f.outBytes)
	if f.Log != nil && in > 0 {
		f.Log.Info("compress: unpacked %d bytes into %d (%.1f%%)", in, out, 100*float64(out)/float64(in))
	}
}
