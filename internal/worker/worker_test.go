package worker

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
)

var errTestFatal = errors.New("worker_test: injected failure")

// passThrough copies every packet from input to output unchanged, the
// simplest possible Filter, used to exercise Group's own plumbing in
// isolation from any particular transform.
type passThrough struct {
	BaseFilter
}

func (passThrough) Write(s *State) (message.Type, []byte, error) {
	return s.Header, s.Scratch.([]byte), nil
}

func (f *passThrough) Read(s *State, payload []byte) error {
	s.Scratch = append([]byte(nil), payload...)
	return nil
}

func writeClosePacket(t *testing.T, b *packetstream.Buffer) {
	require.NoError(t, packetstream.WritePacket(b, message.Close, nil))
}

// TestGroupPreservesOrder feeds a sequence of numbered packets through a
// 4-worker pass-through Group (single producer, N workers, single
// consumer) and checks the output arrives in the same order it was
// written despite concurrent processing.
func TestGroupPreservesOrder(t *testing.T) {
	in := packetstream.New(1<<16, false)
	out := packetstream.New(1<<16, false)
	log := logging.NewLogger("test", &bytes.Buffer{})

	g := NewGroup(log, in, out, &passThrough{}, 4)
	g.Run()

	const n = 200
	for i := 0; i < n; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 1+i%7)
		require.NoError(t, packetstream.WritePacket(in, message.AudioData, payload))
	}
	writeClosePacket(t, in)

	for i := 0; i < n; i++ {
		pkt, err := packetstream.ReadPacket(out)
		require.NoError(t, err)
		require.Equal(t, message.AudioData, pkt.Type)
		expect := bytes.Repeat([]byte{byte(i)}, 1+i%7)
		require.Equal(t, expect, pkt.Payload)
	}

	closePkt, err := packetstream.ReadPacket(out)
	require.NoError(t, err)
	require.Equal(t, message.Close, closePkt.Type)

	require.NoError(t, g.Wait())
}

// errFilter fails on a specific payload byte to exercise fatal-error
// propagation: the group should cancel both buffers so that neither a
// blocked writer nor a blocked reader hangs.
type errFilter struct {
	BaseFilter
	failOn byte
}

func (f *errFilter) Read(s *State, payload []byte) error {
	if len(payload) > 0 && payload[0] == f.failOn {
		return errTestFatal
	}
	s.Scratch = append([]byte(nil), payload...)
	return nil
}

func (errFilter) Write(s *State) (message.Type, []byte, error) {
	return s.Header, s.Scratch.([]byte), nil
}

func TestGroupCancelsOnFatalError(t *testing.T) {
	in := packetstream.New(4096, false)
	out := packetstream.New(4096, false)
	log := logging.NewLogger("test", &bytes.Buffer{})

	g := NewGroup(log, in, out, &errFilter{failOn: 0xff}, 1)
	g.Run()

	require.NoError(t, packetstream.WritePacket(in, message.AudioData, []byte{0xff}))

	err := g.Wait()
	require.Error(t, err)
	require.True(t, in.Cancelled())
	require.True(t, out.Cancelled())
}

func TestGroupMultiWorkerCloseExitsCleanly(t *testing.T) {
	in := packetstream.New(4096, false)
	log := logging.NewLogger("test", &bytes.Buffer{})

	g := NewGroup(log, in, nil, &passThrough{}, 3)
	g.Run()
	writeClosePacket(t, in)
	require.NoError(t, g.Wait())
}
