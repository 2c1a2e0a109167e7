// Package container implements a self-describing, restartable on-disk
// stream format: an info header (signature, version, flags, fps, pid,
// name, date) followed by a sequence of framed messages
// terminated by a CLOSE, with a state tracker that replays the latest
// VIDEO_FORMAT/AUDIO_FORMAT/COLOR per stream id at the start of each
// resumed segment so a fresh file is self-contained.
package container

import (
	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/message"
)

// Signature is the magic value stamped at the start of every info_header.
const Signature uint32 = 0x00DEAD00

// CurrentVersion is the version this package writes: nanosecond
// timestamps, size-before-header record order.
const CurrentVersion uint8 = 0x05

// Legacy versions, supported for read only. VersionB carried microsecond
// timestamps; VersionA additionally wrote header before size in each
// record.
const (
	VersionB uint8 = 0x04
	VersionA uint8 = 0x03
)

// FlagSync records, purely informationally, that a segment was written
// with forced flush-after-write (sync mode).
const FlagSync uint8 = 1 << 0

// infoHeaderSize is the fixed-size portion of InfoHeader's on-disk form:
// signature(4) + version(1) + flags(1) + fps(8) + pid(4) + name_size(4) +
// date_size(4).
const infoHeaderSize = 4 + 1 + 1 + 8 + 4 + 4 + 4

// InfoHeader is the fixed-size header at the start of every segment.
type InfoHeader struct {
	Signature uint32
	Version   uint8
	Flags     uint8
	FPS       float64
	PID       uint32
	NameSize  uint32
	DateSize  uint32
}

func (h InfoHeader) Marshal() []byte {
	w := message.NewWriter()
	w.WriteUint32(h.Signature)
	w.WriteByte(h.Version)
	w.WriteByte(h.Flags)
	w.WriteFloat64(h.FPS)
	w.WriteUint32(h.PID)
	w.WriteUint32(h.NameSize)
	w.WriteUint32(h.DateSize)
	return w.Bytes()
}

var errBadSignature = errors.New("container: bad info_header signature")
var errUnsupportedVersion = errors.New("container: unsupported version")

func UnmarshalInfoHeader(buf []byte) (InfoHeader, error) {
	r := message.NewReader(buf)
	if err := r.CheckRemaining(infoHeaderSize); err != nil {
		return InfoHeader{}, err
	}
	var h InfoHeader
	h.Signature = r.ReadUint32()
	if h.Signature != Signature {
		return InfoHeader{}, errBadSignature
	}
	h.Version = r.ReadByte()
	switch h.Version {
	case CurrentVersion, VersionA, VersionB:
	default:
		return InfoHeader{}, errUnsupportedVersion
	}
	h.Flags = r.ReadByte()
	h.FPS = r.ReadFloat64()
	h.PID = r.ReadUint32()
	h.NameSize = r.ReadUint32()
	h.DateSize = r.ReadUint32()
	return h, nil
}

// isLegacyMicroseconds reports whether version's VIDEO_FRAME/AUDIO_DATA
// timestamps are microseconds requiring ×1000 normalization on read.
func isLegacyMicroseconds(version uint8) bool {
	return version == VersionA || version == VersionB
}

// headerBeforeSize reports whether version wrote header before size in
// each on-disk record, a VersionA-only quirk.
func headerBeforeSize(version uint8) bool {
	return version == VersionA
}
