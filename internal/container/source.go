package container

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
)

// Source reads a container file and emits packets to an output buffer
// until CLOSE, supporting these source operations: open_source,
// close_source, read_info, read, destroy. A file may hold several
// concatenated `{info, messages…, CLOSE}` segments; Read returns once a
// segment's CLOSE has been emitted, and the caller calls ReadInfo again
// to move on to the next segment's info_header.
type Source struct {
	log *logging.Logger
	out *packetstream.Buffer

	file    *os.File
	r       *bufio.Reader
	version uint8
}

func NewSource(log *logging.Logger, out *packetstream.Buffer) *Source {
	return &Source{log: log, out: out}
}

// OpenSource opens filename for reading.
func (s *Source) OpenSource(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "container: open source")
	}
	s.file = f
	s.r = bufio.NewReader(f)
	return nil
}

// CloseSource closes the underlying file.
func (s *Source) CloseSource() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.r = nil
	return err
}

// ReadInfo reads the next segment's info_header, name, and date,
// recording its version for subsequent Read calls. Returns io.EOF when
// no further segment exists.
func (s *Source) ReadInfo() (InfoHeader, string, string, error) {
	fixed := make([]byte, infoHeaderSize)
	if _, err := io.ReadFull(s.r, fixed); err != nil {
		return InfoHeader{}, "", "", err
	}
	h, err := UnmarshalInfoHeader(fixed)
	if err != nil {
		return InfoHeader{}, "", "", err
	}

	nameBuf := make([]byte, h.NameSize)
	if _, err := io.ReadFull(s.r, nameBuf); err != nil {
		return InfoHeader{}, "", "", err
	}
	dateBuf := make([]byte, h.DateSize)
	if _, err := io.ReadFull(s.r, dateBuf); err != nil {
		return InfoHeader{}, "", "", err
	}

	s.version = h.Version
	return h, cString(nameBuf), cString(dateBuf), nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Read loops emitting packets to the output buffer until CLOSE or
// external cancellation; an unexpected EOF synthesizes a final CLOSE so
// downstream consumers always observe a terminal marker.
func (s *Source) Read() error {
	for {
		pkt, err := readRecord(s.r, s.version)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				s.log.Warn("container: unexpected EOF, synthesizing CLOSE")
				return packetstream.WritePacket(s.out, message.Close, nil)
			}
			return err
		}

		if err := packetstream.WritePacket(s.out, pkt.Type, pkt.Payload); err != nil {
			return err
		}
		if pkt.Type == message.Close {
			return nil
		}
	}
}

// Destroy closes the source.
func (s *Source) Destroy() error {
	return s.CloseSource()
}
