package packetstream

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeAll publishes each packet using DMA with AcceptFakeDMA, so a packet
// larger than the buffer's whole capacity (an 8192-byte frame crossing a
// 4 KiB buffer below) bounces instead of deadlocking.
func writeAll(t *testing.T, b *Buffer, packets [][]byte) {
	for _, p := range packets {
		h, err := b.OpenWrite()
		require.NoError(t, err)
		region, err := h.DMA(len(p), AcceptFakeDMA)
		require.NoError(t, err)
		copy(region, p)
		require.NoError(t, h.Close())
	}
}

func readAll(t *testing.T, b *Buffer, n int) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		h, err := b.OpenRead()
		require.NoError(t, err)
		raw, err := h.Bytes()
		require.NoError(t, err)
		cp := append([]byte(nil), raw...)
		out = append(out, cp)
		require.NoError(t, h.Close())
	}
	return out
}

// A sequence of variously sized packets must arrive identically and in
// order.
func TestSingleProducerSingleConsumerOrder(t *testing.T) {
	sizes := []int{1, 7, 64, 1024, 65, 3, 2, 8192, 1, 1}
	b := New(4096, false)

	var wg sync.WaitGroup
	wg.Add(1)
	packets := make([][]byte, len(sizes))
	for i, n := range sizes {
		p := make([]byte, n)
		rand.New(rand.NewSource(int64(i))).Read(p)
		packets[i] = p
	}

	go func() {
		defer wg.Done()
		writeAll(t, b, packets)
	}()

	got := readAll(t, b, len(sizes))
	wg.Wait()

	require.Equal(t, packets, got)
}

func TestFakeDMALargerThanBuffer(t *testing.T) {
	b := New(16, false)
	h, err := b.OpenWrite()
	require.NoError(t, err)

	payload := make([]byte, 1<<20)
	rand.New(rand.NewSource(1)).Read(payload)

	region, err := h.DMA(len(payload), AcceptFakeDMA)
	require.NoError(t, err)
	copy(region, payload)
	require.NoError(t, h.SetSize(len(payload)))
	require.NoError(t, h.Close())

	rh, err := b.OpenRead()
	require.NoError(t, err)
	got, err := rh.Bytes()
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.NoError(t, rh.Close())
}

// TestDMAMixedDirectAndBounce writes part of a packet into the arena and
// the rest through the fake-DMA fallback; the reader must still see one
// contiguous payload in write order.
func TestDMAMixedDirectAndBounce(t *testing.T) {
	b := New(32, false)
	h, err := b.OpenWrite()
	require.NoError(t, err)

	first, err := h.DMA(8, 0)
	require.NoError(t, err)
	copy(first, "abcdefgh")

	second, err := h.DMA(64, AcceptFakeDMA)
	require.NoError(t, err)
	copy(second, bytes.Repeat([]byte{0x5A}, 64))

	require.NoError(t, h.Close())

	rh, err := b.OpenRead()
	require.NoError(t, err)
	got, err := rh.Bytes()
	require.NoError(t, err)
	require.Equal(t, append([]byte("abcdefgh"), bytes.Repeat([]byte{0x5A}, 64)...), got)
	require.NoError(t, rh.Close())
}

func TestCancelWakesBlockedCallers(t *testing.T) {
	b := New(8, false)

	done := make(chan error, 1)
	go func() {
		_, err := b.OpenRead()
		done <- err
	}()

	b.Cancel()
	require.ErrorIs(t, <-done, ErrCancelled)

	_, err := b.OpenWrite()
	require.ErrorIs(t, err, ErrCancelled)
}

func TestCannotCancelAfterSetSize(t *testing.T) {
	b := New(64, false)
	h, err := b.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, h.Write([]byte("hello")))
	require.NoError(t, h.SetSize(5))
	require.ErrorIs(t, h.Cancel(), ErrSizeFixed)
	require.NoError(t, h.Close())
}

func TestCancelledPacketSkippedByReader(t *testing.T) {
	b := New(64, false)

	h1, err := b.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, h1.Write([]byte("dropped")))
	require.NoError(t, h1.Cancel())

	h2, err := b.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, h2.Write([]byte("kept")))
	require.NoError(t, h2.Close())

	rh, err := b.OpenRead()
	require.NoError(t, err)
	got, err := rh.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), got)
	require.NoError(t, rh.Close())
}

func TestDrainWaitsUntilEmpty(t *testing.T) {
	b := New(64, false)

	h, err := b.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, h.Write([]byte("pending")))
	require.NoError(t, h.Close())

	drained := make(chan error, 1)
	go func() { drained <- b.Drain() }()

	select {
	case <-drained:
		t.Fatal("Drain should block while a packet is unread")
	default:
	}

	rh, err := b.OpenRead()
	require.NoError(t, err)
	require.NoError(t, rh.Close())

	require.NoError(t, <-drained)

	// The buffer stays usable after a drain.
	h2, err := b.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, h2.Write([]byte("after")))
	require.NoError(t, h2.Close())
}

func TestStatsCountBytesAndPackets(t *testing.T) {
	b := New(1024, true)

	for _, payload := range [][]byte{[]byte("abc"), []byte("defgh")} {
		h, err := b.OpenWrite()
		require.NoError(t, err)
		require.NoError(t, h.Write(payload))
		require.NoError(t, h.Close())

		rh, err := b.OpenRead()
		require.NoError(t, err)
		require.NoError(t, rh.Close())
	}

	stats := b.Snapshot()
	require.Equal(t, uint64(8), stats.BytesIn)
	require.Equal(t, uint64(8), stats.BytesOut)
	require.Equal(t, uint64(2), stats.PacketsIn)
	require.Equal(t, uint64(2), stats.PacketsOut)
}

func TestBackpressureBlocksUntilReaderDrains(t *testing.T) {
	b := New(4, false)

	h1, err := b.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, h1.Write([]byte("ab")))
	require.NoError(t, h1.Close())

	h2, err := b.OpenWrite()
	require.NoError(t, err)
	require.NoError(t, h2.Write([]byte("cd")))
	require.NoError(t, h2.Close())

	writeDone := make(chan error, 1)
	go func() {
		h3, err := b.OpenWrite()
		if err != nil {
			writeDone <- err
			return
		}
		writeDone <- h3.Write([]byte("ef"))
	}()

	select {
	case <-writeDone:
		t.Fatal("third write should have blocked for capacity")
	default:
	}

	rh, err := b.OpenRead()
	require.NoError(t, err)
	require.NoError(t, rh.Close())

	require.NoError(t, <-writeDone)
}
