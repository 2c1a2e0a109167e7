package container

import (
	"io"

	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/message"
)

// recordHeaderSize is the fixed portion of every on-disk record:
// size(8) + header(2).
const recordHeaderSize = 8 + 2

// writeRecord appends pkt to w in its on-disk form: `{size:u64 le,
// header:2B, payload}`. A CONTAINER packet's payload already begins with
// that same `{size, header}` shape, matching the on-disk wire format to
// the in-memory container layout exactly, so it is written verbatim
// rather than re-wrapped.
func writeRecord(w io.Writer, pkt message.Packet) error {
	if pkt.Type == message.Container {
		_, err := w.Write(pkt.Payload)
		return err
	}

	rw := message.NewWriter()
	rw.WriteUint64(uint64(len(pkt.Payload)))
	rw.WriteUint16(uint16(pkt.Type))
	rw.WriteSlice(pkt.Payload)
	_, err := w.Write(rw.Bytes())
	return err
}

var errShortRecord = errors.New("container: short record header")

// readRecord reads one on-disk record from r, applying version's record
// order (VersionA wrote header before size) and timestamp normalization
// (VersionA/VersionB carried microseconds; VIDEO_FRAME/AUDIO_DATA
// payloads are rewritten to nanoseconds here so every caller downstream
// sees nanosecond timestamps regardless of source version).
func readRecord(r io.Reader, version uint8) (message.Packet, error) {
	var head [recordHeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return message.Packet{}, err
	}

	var size uint64
	var t message.Type
	if headerBeforeSize(version) {
		t = message.Type(message.NewReader(head[:2]).ReadUint16())
		size = message.NewReader(head[2:]).ReadUint64()
	} else {
		size = message.NewReader(head[:8]).ReadUint64()
		t = message.Type(message.NewReader(head[8:]).ReadUint16())
	}

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return message.Packet{}, err
		}
	}

	if isLegacyMicroseconds(version) {
		payload = normalizeLegacyTimestamp(t, payload)
	}

	return message.Packet{Type: t, Payload: payload}, nil
}

// normalizeLegacyTimestamp multiplies a VIDEO_FRAME/AUDIO_DATA payload's
// time_ns field by 1000, converting legacy microsecond timestamps to
// nanoseconds in place.
func normalizeLegacyTimestamp(t message.Type, payload []byte) []byte {
	switch t {
	case message.VideoFrame:
		frame, err := message.UnmarshalVideoFrame(payload)
		if err != nil {
			return payload
		}
		frame.TimeNs *= 1000
		return frame.Marshal()
	case message.AudioData:
		data, err := message.UnmarshalAudioData(payload)
		if err != nil {
			return payload
		}
		data.TimeNs *= 1000
		return data.Marshal()
	default:
		return payload
	}
}
