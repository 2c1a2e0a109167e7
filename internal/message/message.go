package message

import "github.com/lanikai/glcs/internal/streamid"

// Type is the 2-byte message type header. The type set is stable on disk.
type Type uint16

const (
	Close Type = iota + 1
	VideoFormat
	VideoFrame
	AudioFormat
	AudioData
	LZO
	QuickLZ
	LZJB
	Color
	Container
	CallbackRequest
)

func (t Type) String() string {
	switch t {
	case Close:
		return "CLOSE"
	case VideoFormat:
		return "VIDEO_FORMAT"
	case VideoFrame:
		return "VIDEO_FRAME"
	case AudioFormat:
		return "AUDIO_FORMAT"
	case AudioData:
		return "AUDIO_DATA"
	case LZO:
		return "LZO"
	case QuickLZ:
		return "QUICKLZ"
	case LZJB:
		return "LZJB"
	case Color:
		return "COLOR"
	case Container:
		return "CONTAINER"
	case CallbackRequest:
		return "CALLBACK_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// PeekStreamID reads the leading 4-byte stream id shared by
// VIDEO_FORMAT/VIDEO_FRAME/AUDIO_FORMAT/AUDIO_DATA payloads, without
// decoding the rest of the message. Used by the demultiplexer to route
// packets without caring about the remainder of each payload's shape.
func PeekStreamID(payload []byte) (streamid.ID, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(4); err != nil {
		return 0, err
	}
	return streamid.ID(r.ReadUint32()), nil
}

// IsCompressed reports whether t is one of the three compressed wrapper
// types.
func (t Type) IsCompressed() bool {
	return t == LZO || t == QuickLZ || t == LZJB
}

const HeaderSize = 2

// Packet is one {header, payload} unit, the unit every ring buffer and
// on-disk stream carries. Payload is the encoded form produced by
// the Marshal* functions below; it never includes the 2-byte header itself.
type Packet struct {
	Type    Type
	Payload []byte
}

// Encode returns the packet's on-wire bytes: 2-byte header followed by the
// payload, the same layout used both in ring buffer packets and as the
// inner message of a CONTAINER wrapper.
func (p Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	byteOrder.PutUint16(buf, uint16(p.Type))
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// DecodePacket splits raw on-wire bytes (as produced by Encode) back into a
// Packet. The returned Payload aliases buf.
func DecodePacket(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, errShortPacket
	}
	return Packet{
		Type:    Type(byteOrder.Uint16(buf)),
		Payload: buf[HeaderSize:],
	}, nil
}

var errShortPacket = shortPacketError{}

type shortPacketError struct{}

func (shortPacketError) Error() string { return "message: packet shorter than header" }

// Flags used by VideoFormat and AudioFormat payloads.
const (
	FlagDwordAligned uint32 = 1 << iota
	FlagInterleaved
)

// PixelFormat is a 4-character symbolic pixel format name, e.g. "BGRA",
// passed verbatim in the pipe sink's child argv.
type PixelFormat [4]byte

func (f PixelFormat) String() string {
	n := 4
	for n > 0 && f[n-1] == 0 {
		n--
	}
	return string(f[:n])
}

func NewPixelFormat(s string) PixelFormat {
	var f PixelFormat
	copy(f[:], s)
	return f
}

// BytesPerPixel returns the pixel stride implied by the format's trailing
// digit (e.g. "BGR3"/"RGB3" -> 3, "BGRA"/"BGR4" -> 4), or 0 if the format
// isn't one of the known symbolic names. Used to compute
// VideoFormatMsg.RowBytes for the pipe sink's frame writer.
func (f PixelFormat) BytesPerPixel() int {
	switch f.String() {
	case "BGR3", "RGB3":
		return 3
	case "BGRA", "BGR4", "RGBA", "RGB4":
		return 4
	default:
		return 0
	}
}

// AudioSampleFormat enumerates the three ALSA-negotiable sample formats.
type AudioSampleFormat uint32

const (
	S16LE AudioSampleFormat = iota
	S24LE
	S32LE
)

func (f AudioSampleFormat) BytesPerSample() int {
	switch f {
	case S16LE:
		return 2
	case S24LE:
		return 3
	case S32LE:
		return 4
	default:
		return 0
	}
}

func (f AudioSampleFormat) String() string {
	switch f {
	case S16LE:
		return "S16_LE"
	case S24LE:
		return "S24_LE"
	case S32LE:
		return "S32_LE"
	default:
		return "UNKNOWN"
	}
}

// VideoFormatMsg is the VIDEO_FORMAT payload.
type VideoFormatMsg struct {
	ID          streamid.ID
	Flags       uint32
	Width       uint32
	Height      uint32
	PixelFormat PixelFormat
}

func (m VideoFormatMsg) Marshal() []byte {
	w := NewWriter()
	w.WriteUint32(uint32(m.ID))
	w.WriteUint32(m.Flags)
	w.WriteUint32(m.Width)
	w.WriteUint32(m.Height)
	w.WriteSlice(m.PixelFormat[:])
	return w.Bytes()
}

func UnmarshalVideoFormat(payload []byte) (VideoFormatMsg, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(16); err != nil {
		return VideoFormatMsg{}, err
	}
	var m VideoFormatMsg
	m.ID = streamid.ID(r.ReadUint32())
	m.Flags = r.ReadUint32()
	m.Width = r.ReadUint32()
	m.Height = r.ReadUint32()
	copy(m.PixelFormat[:], r.ReadSlice(4))
	return m, nil
}

// RowBytes returns the per-scanline byte count implied by the format,
// rounding up to the next 4-byte boundary when DWORD_ALIGNED is set.
func (m VideoFormatMsg) RowBytes(bytesPerPixel int) uint32 {
	row := m.Width * uint32(bytesPerPixel)
	if m.Flags&FlagDwordAligned != 0 {
		row = (row + 3) &^ 3
	}
	return row
}

// VideoFrameMsg is the VIDEO_FRAME payload: header fields plus raw pixels.
type VideoFrameMsg struct {
	ID     streamid.ID
	TimeNs int64
	Pixels []byte
}

func (m VideoFrameMsg) Marshal() []byte {
	w := NewWriter()
	w.WriteUint32(uint32(m.ID))
	w.WriteInt64(m.TimeNs)
	w.WriteSlice(m.Pixels)
	return w.Bytes()
}

func UnmarshalVideoFrame(payload []byte) (VideoFrameMsg, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(12); err != nil {
		return VideoFrameMsg{}, err
	}
	var m VideoFrameMsg
	m.ID = streamid.ID(r.ReadUint32())
	m.TimeNs = r.ReadInt64()
	m.Pixels = r.ReadRemaining()
	return m, nil
}

// AudioFormatMsg is the AUDIO_FORMAT payload.
type AudioFormatMsg struct {
	ID       streamid.ID
	Flags    uint32
	Rate     uint32
	Channels uint32
	Format   AudioSampleFormat
}

func (m AudioFormatMsg) Marshal() []byte {
	w := NewWriter()
	w.WriteUint32(uint32(m.ID))
	w.WriteUint32(m.Flags)
	w.WriteUint32(m.Rate)
	w.WriteUint32(m.Channels)
	w.WriteUint32(uint32(m.Format))
	return w.Bytes()
}

func UnmarshalAudioFormat(payload []byte) (AudioFormatMsg, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(20); err != nil {
		return AudioFormatMsg{}, err
	}
	var m AudioFormatMsg
	m.ID = streamid.ID(r.ReadUint32())
	m.Flags = r.ReadUint32()
	m.Rate = r.ReadUint32()
	m.Channels = r.ReadUint32()
	m.Format = AudioSampleFormat(r.ReadUint32())
	return m, nil
}

// AudioDataMsg is the AUDIO_DATA payload: header fields plus raw PCM bytes.
type AudioDataMsg struct {
	ID     streamid.ID
	TimeNs int64
	Size   uint32
	PCM    []byte
}

func (m AudioDataMsg) Marshal() []byte {
	w := NewWriter()
	w.WriteUint32(uint32(m.ID))
	w.WriteInt64(m.TimeNs)
	w.WriteUint32(uint32(len(m.PCM)))
	w.WriteSlice(m.PCM)
	return w.Bytes()
}

func UnmarshalAudioData(payload []byte) (AudioDataMsg, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(16); err != nil {
		return AudioDataMsg{}, err
	}
	var m AudioDataMsg
	m.ID = streamid.ID(r.ReadUint32())
	m.TimeNs = r.ReadInt64()
	m.Size = r.ReadUint32()
	if err := r.CheckRemaining(int(m.Size)); err != nil {
		return AudioDataMsg{}, err
	}
	m.PCM = r.ReadSlice(int(m.Size))
	return m, nil
}

// ColorMsg is the COLOR payload, matching the player's "-g/--color
// b;c;r;g;b_gamma" flag.
type ColorMsg struct {
	ID         streamid.ID
	Brightness float64
	Contrast   float64
	Red        float64
	Green      float64
	Blue       float64
	Gamma      float64
}

func (m ColorMsg) Marshal() []byte {
	w := NewWriter()
	w.WriteUint32(uint32(m.ID))
	w.WriteFloat64(m.Brightness)
	w.WriteFloat64(m.Contrast)
	w.WriteFloat64(m.Red)
	w.WriteFloat64(m.Green)
	w.WriteFloat64(m.Blue)
	w.WriteFloat64(m.Gamma)
	return w.Bytes()
}

func UnmarshalColor(payload []byte) (ColorMsg, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(4 + 8*6); err != nil {
		return ColorMsg{}, err
	}
	var m ColorMsg
	m.ID = streamid.ID(r.ReadUint32())
	m.Brightness = r.ReadFloat64()
	m.Contrast = r.ReadFloat64()
	m.Red = r.ReadFloat64()
	m.Green = r.ReadFloat64()
	m.Blue = r.ReadFloat64()
	m.Gamma = r.ReadFloat64()
	return m, nil
}

// CompressedMsg is the payload wrapper for LZO/QUICKLZ/LZJB inner
// messages: uncompressed size, the original header it replaces, and the
// compressed bytes.
type CompressedMsg struct {
	UncompressedSize uint64
	OriginalHeader   Type
	Compressed       []byte
}

func (m CompressedMsg) Marshal() []byte {
	w := NewWriter()
	w.WriteUint64(m.UncompressedSize)
	w.WriteUint16(uint16(m.OriginalHeader))
	w.WriteSlice(m.Compressed)
	return w.Bytes()
}

func UnmarshalCompressed(payload []byte) (CompressedMsg, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(10); err != nil {
		return CompressedMsg{}, err
	}
	var m CompressedMsg
	m.UncompressedSize = r.ReadUint64()
	m.OriginalHeader = Type(r.ReadUint16())
	m.Compressed = r.ReadRemaining()
	return m, nil
}

// CallbackSubKind distinguishes CALLBACK_REQUEST sub-kinds.
// CALLBACK_REQUEST messages are in-pipeline-only control messages; they
// must never be persisted.
type CallbackSubKind uint16

const (
	CallbackReload CallbackSubKind = iota + 1
	CallbackStop
)

// CallbackRequestMsg is the CALLBACK_REQUEST payload.
type CallbackRequestMsg struct {
	SubKind CallbackSubKind
	Arg     uint64
}

func (m CallbackRequestMsg) Marshal() []byte {
	w := NewWriter()
	w.WriteUint16(uint16(m.SubKind))
	w.WriteUint64(m.Arg)
	return w.Bytes()
}

func UnmarshalCallbackRequest(payload []byte) (CallbackRequestMsg, error) {
	r := NewReader(payload)
	if err := r.CheckRemaining(10); err != nil {
		return CallbackRequestMsg{}, err
	}
	var m CallbackRequestMsg
	m.SubKind = CallbackSubKind(r.ReadUint16())
	m.Arg = r.ReadUint64()
	return m, nil
}
