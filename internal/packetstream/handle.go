package packetstream

import (
	"time"
)

// minReservation is the minimal reservation charged against capacity when a
// packet slot opens, before any bytes are written: OpenWrite blocks until
// the buffer can accommodate at least this much.
const minReservation = 1

// WriteHandle is returned by OpenWrite. Callers append payload with Write
// or DMA, optionally fix the final size with SetSize, then publish with
// Close or discard with Cancel.
type WriteHandle struct {
	b   *Buffer
	seq uint64

	// lastRegion is the slice returned by the most recent DMA call, used by
	// Write (implemented atop DMA) to know where to copy.
	lastRegion []byte
}

// OpenWrite reserves a new packet slot at the write head. It blocks until
// the buffer can accommodate at least a minimal record.
func (b *Buffer) OpenWrite() (*WriteHandle, error) {
	start := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.cancelled && b.used+minReservation > b.capacity {
		b.notFull.Wait()
	}
	if b.cancelled {
		return nil, ErrCancelled
	}
	b.recordBlocked(start)

	seq := b.writeSeq
	b.writeSeq++
	s := &slot{seq: seq, size: -1, reserved: minReservation}
	b.slots[seq] = s
	b.used += minReservation

	return &WriteHandle{b: b, seq: seq}, nil
}

// TryOpenWrite behaves like OpenWrite but never blocks: if the buffer
// cannot currently accommodate a minimal record, it returns ok=false
// instead of waiting for a reader to free space. Used by producers that
// would rather silently drop a packet than stall when downstream is
// full (e.g. alsacapture's allow-skip mode).
func (b *Buffer) TryOpenWrite() (h *WriteHandle, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelled {
		return nil, false, ErrCancelled
	}
	if b.used+minReservation > b.capacity {
		return nil, false, nil
	}

	seq := b.writeSeq
	b.writeSeq++
	s := &slot{seq: seq, size: -1, reserved: minReservation}
	b.slots[seq] = s
	b.used += minReservation

	return &WriteHandle{b: b, seq: seq}, true, nil
}

// Write appends bytes to the currently open packet, blocking until there is
// capacity budget to hold them. Write itself never requests fake DMA; the
// bytes land in a bounce buffer only if an earlier DMA call with
// AcceptFakeDMA already moved this packet there.
func (h *WriteHandle) Write(p []byte) error {
	region, err := h.DMA(len(p), 0)
	if err != nil {
		return err
	}
	copy(region, p)
	return nil
}

// DMA reserves n additional bytes for the currently open packet and returns
// a slice the caller can fill directly. If the buffer cannot accommodate n
// bytes within its capacity budget, DMA blocks unless flags includes
// AcceptFakeDMA, in which case it falls back to an unbudgeted heap bounce
// buffer ("fake DMA").
func (h *WriteHandle) DMA(n int, flags DMAFlag) ([]byte, error) {
	start := time.Now()
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[h.seq]
	if !ok || s.finalized {
		return nil, errClosedHandle
	}
	if s.sizeFixed {
		return nil, errSizeFixedNoGrow
	}

	// The first region a packet acquires absorbs the minimal reservation
	// charged at OpenWrite, so a closed packet's charge equals its payload.
	delta := n
	if len(s.data) == 0 && s.bounce == nil {
		delta = n - s.reserved
		if delta < 0 {
			delta = 0
		}
	}

	for {
		if b.cancelled {
			return nil, ErrCancelled
		}

		// Once a packet has bounced, every later region must land in the
		// bounce too, or the payload's byte order would split across the
		// two backing stores.
		if s.bounce == nil && b.used+delta <= b.capacity {
			break
		}
		if s.bounce != nil || flags&AcceptFakeDMA != 0 {
			if s.bounce == nil && len(s.data) > 0 {
				// Migrate already-written direct bytes so the packet stays
				// contiguous. The arena charge stays until release.
				s.bounce = append([]byte(nil), s.data...)
				s.data = nil
			}
			s.bounce = append(s.bounce, make([]byte, n)...)
			region := s.bounce[len(s.bounce)-n:]
			if b.statsEnabled {
				b.stats.BytesIn += uint64(n)
			}
			h.lastRegion = region
			return region, nil
		}
		b.notFull.Wait()
	}
	b.recordBlocked(start)

	b.used += delta
	s.reserved += delta
	s.data = append(s.data, make([]byte, n)...)
	region := s.data[len(s.data)-n:]
	if b.statsEnabled {
		b.stats.BytesIn += uint64(n)
	}
	h.lastRegion = region
	return region, nil
}

// TryDMA behaves like DMA but never blocks and never falls back to a
// bounce buffer: if the buffer cannot accommodate n additional bytes
// within its capacity budget right now, it returns ok=false so the
// caller can cancel the packet and drop it instead of waiting.
func (h *WriteHandle) TryDMA(n int) (region []byte, ok bool, err error) {
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()

	s, found := b.slots[h.seq]
	if !found || s.finalized {
		return nil, false, errClosedHandle
	}
	if s.sizeFixed {
		return nil, false, errSizeFixedNoGrow
	}
	if b.cancelled {
		return nil, false, ErrCancelled
	}
	if s.bounce != nil {
		s.bounce = append(s.bounce, make([]byte, n)...)
		region = s.bounce[len(s.bounce)-n:]
		h.lastRegion = region
		return region, true, nil
	}

	delta := n
	if len(s.data) == 0 {
		delta = n - s.reserved
		if delta < 0 {
			delta = 0
		}
	}
	if b.used+delta > b.capacity {
		return nil, false, nil
	}

	b.used += delta
	s.reserved += delta
	s.data = append(s.data, make([]byte, n)...)
	region = s.data[len(s.data)-n:]
	if b.statsEnabled {
		b.stats.BytesIn += uint64(n)
	}
	h.lastRegion = region
	return region, true, nil
}

// SetSize fixes the final size of the currently open packet. After SetSize,
// the packet cannot be cancelled.
func (h *WriteHandle) SetSize(n int) error {
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[h.seq]
	if !ok || s.finalized {
		return errClosedHandle
	}

	total := len(s.data) + len(s.bounce)
	if n > total {
		return errSizeTooLarge
	}
	s.size = n
	s.sizeFixed = true
	return nil
}

// Close publishes the packet to the reader side. If SetSize was never
// called, the packet's size is the total number of bytes written.
func (h *WriteHandle) Close() error {
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[h.seq]
	if !ok || s.finalized {
		return errClosedHandle
	}
	if s.size < 0 {
		s.size = len(s.data) + len(s.bounce)
	}
	s.finalized = true
	if b.statsEnabled {
		b.stats.PacketsIn++
	}
	b.wakeAfterChange()
	return nil
}

// Cancel discards the packet without publishing it. Not permitted once
// SetSize has been called.
func (h *WriteHandle) Cancel() error {
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[h.seq]
	if !ok || s.finalized {
		return errClosedHandle
	}
	if s.sizeFixed {
		return ErrSizeFixed
	}
	s.cancelled = true
	s.size = 0
	s.finalized = true
	b.used -= s.reserved
	b.wakeAfterChange()
	return nil
}

// ReadHandle is returned by OpenRead. GetSize/Bytes access the claimed
// packet's payload; Close or Cancel releases it, freeing capacity budget
// for writers.
type ReadHandle struct {
	b   *Buffer
	seq uint64
}

// OpenRead claims the oldest not-yet-read packet, blocking until a writer
// has Close()'d at least one packet at this buffer's current read
// position. The claim advances the read position immediately, so several
// readers may each hold a distinct packet in flight concurrently. Packets
// that were Cancel()'d by their writer are skipped transparently. After
// the buffer is cancelled, packets already Close()'d are still delivered
// in order; ErrCancelled is returned once none is left at the read
// position.
func (b *Buffer) OpenRead() (*ReadHandle, error) {
	start := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		s, ok := b.slots[b.readSeq]
		if ok && s.finalized {
			if s.cancelled {
				delete(b.slots, b.readSeq)
				b.readSeq++
				b.wakeAfterChange()
				continue
			}
			b.recordBlocked(start)
			h := &ReadHandle{b: b, seq: b.readSeq}
			b.readSeq++
			return h, nil
		}
		if b.cancelled {
			return nil, ErrCancelled
		}
		b.notEmpty.Wait()
	}
}

// GetSize returns the size of the currently open packet.
func (h *ReadHandle) GetSize() (int, error) {
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[h.seq]
	if !ok {
		return 0, errClosedHandle
	}
	return s.size, nil
}

// Bytes returns the claimed packet's payload. The returned slice is valid
// until Close or Cancel is called on this handle.
func (h *ReadHandle) Bytes() ([]byte, error) {
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[h.seq]
	if !ok {
		return nil, errClosedHandle
	}
	return s.bytes(), nil
}

// Close releases the claimed packet, freeing its capacity budget.
func (h *ReadHandle) Close() error {
	return h.release()
}

// Cancel releases the claimed packet without further processing. For the
// reader side this behaves identically to Close: the packet was already
// published by its writer, so there is nothing left to discard.
func (h *ReadHandle) Cancel() error {
	return h.release()
}

func (h *ReadHandle) release() error {
	b := h.b
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[h.seq]
	if !ok {
		return errClosedHandle
	}
	delete(b.slots, h.seq)
	b.used -= s.reserved
	if b.statsEnabled {
		b.stats.BytesOut += uint64(s.size)
		b.stats.PacketsOut++
	}
	b.wakeAfterChange()
	return nil
}
