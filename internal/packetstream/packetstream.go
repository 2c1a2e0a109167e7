// Package packetstream implements a bounded, back-pressured,
// multi-producer/multi-consumer packet ring buffer: a fixed-capacity
// arena carrying a FIFO of variable-size packets, with a writer-side and
// reader-side handle each following an open/{write,dma}/{close,cancel}
// protocol.
//
// Go's garbage collector removes the need for a manual memory layout, so
// the "arena" here is a capacity budget enforced over per-packet byte
// slices rather than a literal contiguous ring of memory; the
// bounce-buffer ("fake DMA") path is represented directly as the sum type
// described below.
package packetstream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DMAFlag modifies the behavior of a write handle's DMA call.
type DMAFlag int

const (
	// AcceptFakeDMA permits DMA to fall back to a heap-allocated bounce
	// buffer when the requested length cannot be satisfied within the
	// buffer's capacity budget.
	AcceptFakeDMA DMAFlag = 1 << iota
)

// ErrCancelled is returned by every blocked or subsequent operation once a
// Buffer has been cancelled via Cancel(), i.e. "interrupted".
var ErrCancelled = errors.New("packetstream: interrupted")

// ErrSizeFixed is returned by Cancel when called after SetSize, since a
// packet whose size has been fixed can no longer be cancelled.
var ErrSizeFixed = errors.New("packetstream: cannot cancel after setsize")

// slot is one reserved-or-published packet, keyed by its reservation
// sequence number so delivery order is fixed at Open(Write) time even
// though Close() may be called out of order by parallel workers: the
// slot reserved on the output buffer matches the packet dequeued on the
// input, preserving global packet order without serializing compute.
type slot struct {
	seq       uint64
	data      []byte // direct, capacity-budgeted storage
	bounce    []byte // set instead of growing data once a fake-DMA bounce is in use
	size      int    // -1 until SetSize or Close fixes it
	sizeFixed bool
	finalized bool // true once Close'd or Cancel'd
	cancelled bool
	reserved  int // bytes charged against the capacity budget (the open-time minimum stays charged even if the payload bounced)
}

func (s *slot) bytes() []byte {
	if s.bounce != nil {
		return s.bounce[:s.size]
	}
	return s.data[:s.size]
}

// Stats is an optional snapshot of cumulative buffer activity: total
// bytes in/out, packet counts, and time spent blocked.
type Stats struct {
	BytesIn    uint64
	BytesOut   uint64
	PacketsIn  uint64
	PacketsOut uint64
	BlockedNs  int64
}

// Buffer is a bounded packet ring buffer. Zero value is not usable; use New.
type Buffer struct {
	capacity int

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	draining *sync.Cond

	writeSeq uint64 // next sequence number to hand out to Open(Write)
	readSeq  uint64 // sequence number the next Open(Read) must deliver

	slots map[uint64]*slot
	used  int // bytes currently charged against capacity

	cancelled bool

	statsEnabled bool
	stats        Stats
}

// New returns a Buffer with the given capacity in bytes. If withStats is
// true, the buffer maintains the Stats counters exposed by Snapshot.
func New(capacity int, withStats bool) *Buffer {
	b := &Buffer{
		capacity:     capacity,
		slots:        make(map[uint64]*slot),
		statsEnabled: withStats,
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	b.draining = sync.NewCond(&b.mu)
	return b
}

// Snapshot returns the current Stats. Valid even if stats were not enabled
// (all zero in that case).
func (b *Buffer) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Buffer) recordBlocked(since time.Time) {
	if b.statsEnabled {
		atomic.AddInt64(&b.stats.BlockedNs, int64(time.Since(since)))
	}
}

// Cancel wakes every blocked caller on this buffer with ErrCancelled and
// causes all subsequent operations to fail the same way, with one
// exception: OpenRead still delivers packets that were Close()'d before
// the cancel, so nothing is lost for packets already published as long as
// callers finish draining before dropping the Buffer.
func (b *Buffer) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	b.draining.Broadcast()
}

// Cancelled reports whether Cancel has been called.
func (b *Buffer) Cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Drain blocks until the buffer is empty (no reserved or unread packets),
// then returns. Subsequent operations are permitted as usual.
func (b *Buffer) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.slots) > 0 && !b.cancelled {
		b.draining.Wait()
	}
	if b.cancelled {
		return ErrCancelled
	}
	return nil
}

func (b *Buffer) wakeAfterChange() {
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	if len(b.slots) == 0 {
		b.draining.Broadcast()
	}
}
