// Package worker implements a worker-group framework: a fixed-size pool
// of goroutines pulling packets from one packetstream.Buffer, running
// them through a Filter, and publishing the result to an (optional)
// output packetstream.Buffer, while preserving end-to-end packet order
// without serializing the filter's own work.
//
// The open-lock makes claiming an input packet and reserving its output
// slot one atomic step across the pool, so output order matches input
// order no matter how long each worker's compute takes.
package worker

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/packetstream"
	"github.com/lanikai/glcs/internal/rtprio"
)

// State carries the per-packet working set a Filter's hooks operate on,
// plus a per-goroutine Scratch slot a Filter may populate in ThreadCreate
// and reuse across packets handled by that goroutine.
type State struct {
	// Header is the type of the packet currently being processed.
	Header message.Type

	// Scratch is opaque, goroutine-local storage a Filter may use to
	// avoid reallocating per-packet working buffers.
	Scratch interface{}

	// Skip, when set true by Open, Header or Read, suppresses publishing any output
	// packet for the current input packet (e.g. a filter that merges
	// several input packets into one output packet).
	Skip bool
}

// Filter is the hook set a worker Group drives for every packet it pulls
// from its input buffer. A filter that only needs Read/Write can embed
// BaseFilter to satisfy the rest with no-ops.
type Filter interface {
	// ThreadCreate runs once per worker goroutine before it pulls any
	// packets, to set up State.Scratch.
	ThreadCreate(s *State) error

	// Open runs once per packet, after the input (and output, if any)
	// slot has been reserved, before Header/Read/Write.
	Open(s *State) error

	// Header runs with the input packet's type.
	Header(s *State, t message.Type) error

	// Read runs with the input packet's payload.
	Read(s *State, payload []byte) error

	// Write returns the output packet's type and payload. It is not
	// called if the group has no output buffer, or if Read set s.Skip.
	Write(s *State) (message.Type, []byte, error)

	// Close runs once per packet, after the output has been published
	// (or skipped) and before the input is released.
	Close(s *State) error

	// ThreadFinish runs once per worker goroutine after its last packet.
	ThreadFinish(s *State)

	// Finish runs once, after every worker goroutine has exited.
	Finish()
}

// BaseFilter supplies no-op implementations of every Filter hook except
// Write, so small filters only implement what they need.
type BaseFilter struct{}

func (BaseFilter) ThreadCreate(*State) error         { return nil }
func (BaseFilter) Open(*State) error                 { return nil }
func (BaseFilter) Header(*State, message.Type) error { return nil }
func (BaseFilter) Read(*State, []byte) error         { return nil }
func (BaseFilter) Close(*State) error                { return nil }
func (BaseFilter) ThreadFinish(*State)               {}
func (BaseFilter) Finish()                           {}

// Group runs Workers goroutines, each pulling from In and, if Out is
// non-nil, publishing to Out, passing every packet through Filter.
//
// Exactly one CLOSE packet is expected on In: every pipeline stage
// propagates exactly one CLOSE and then exits. The goroutine that claims
// it sets the group's stop flag and, in a group of more than one worker,
// cancels In so its siblings (blocked
// waiting for packets that will never arrive) wake up and exit cleanly
// rather than hang.
type Group struct {
	log     *logging.Logger
	in      *packetstream.Buffer
	out     *packetstream.Buffer
	filter  Filter
	workers int

	openLock sync.Mutex
	stopped  int32
	realtime bool

	wg      sync.WaitGroup
	errMu   sync.Mutex
	err     error
}

// SetRealtime toggles whether this group's worker goroutines request
// SCHED_RR priority at start, for processes that have opted into
// real-time scheduling. Call before Run.
func (g *Group) SetRealtime(enabled bool) {
	g.realtime = enabled
}

// NewGroup constructs a Group. out may be nil for a terminal consumer
// stage (e.g. a file or pipe sink) that has no downstream buffer.
func NewGroup(log *logging.Logger, in, out *packetstream.Buffer, filter Filter, workers int) *Group {
	if workers < 1 {
		workers = 1
	}
	return &Group{
		log:     log,
		in:      in,
		out:     out,
		filter:  filter,
		workers: workers,
	}
}

// Run starts the worker goroutines. It returns immediately; call Wait to
// block until every goroutine has exited and Filter.Finish has run.
func (g *Group) Run() {
	for i := 0; i < g.workers; i++ {
		g.wg.Add(1)
		go g.runWorker()
	}
}

// Wait blocks until every worker goroutine has exited, then runs
// Filter.Finish exactly once and returns the first fatal error
// encountered by any goroutine, if any.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.filter.Finish()
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}

// Err returns the first fatal error recorded so far, without blocking.
func (g *Group) Err() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}

func (g *Group) setErr(err error) {
	g.errMu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.errMu.Unlock()
}

func (g *Group) runWorker() {
	defer g.wg.Done()

	if g.realtime {
		rtprio.Enable(g.log)
	}

	state := &State{}
	if err := g.filter.ThreadCreate(state); err != nil {
		g.log.Error("worker: thread_create: %v", err)
		g.setErr(err)
		g.cancelBoth()
		return
	}
	defer g.filter.ThreadFinish(state)

	for {
		if atomic.LoadInt32(&g.stopped) == 1 {
			return
		}

		closing, err := g.step(state)
		if err != nil {
			if packetstream.IsCancelled(err) {
				return
			}
			g.log.Error("worker: %v", err)
			g.setErr(err)
			g.cancelBoth()
			return
		}
		if closing {
			return
		}
	}
}

// step processes exactly one packet, returning closing=true if it was the
// CLOSE packet (in which case this goroutine should exit after step
// returns, having already set the group's stop flag).
func (g *Group) step(state *State) (closing bool, err error) {
	g.openLock.Lock()
	rh, err := g.in.OpenRead()
	if err != nil {
		g.openLock.Unlock()
		return false, err
	}

	var wh *packetstream.WriteHandle
	if g.out != nil {
		wh, err = g.out.OpenWrite()
		if err != nil {
			g.openLock.Unlock()
			rh.Cancel()
			return false, err
		}
	}
	g.openLock.Unlock()

	raw, err := rh.Bytes()
	if err != nil {
		rh.Cancel()
		if wh != nil {
			wh.Cancel()
		}
		return false, err
	}
	pkt, err := message.DecodePacket(raw)
	if err != nil {
		rh.Close()
		if wh != nil {
			wh.Cancel()
		}
		return false, err
	}
	state.Header = pkt.Type
	state.Skip = false

	if err := g.filter.Open(state); err != nil {
		rh.Close()
		if wh != nil {
			wh.Cancel()
		}
		return false, err
	}
	if err := g.filter.Header(state, pkt.Type); err != nil {
		rh.Close()
		if wh != nil {
			wh.Cancel()
		}
		return false, err
	}
	if err := g.filter.Read(state, pkt.Payload); err != nil {
		rh.Close()
		if wh != nil {
			wh.Cancel()
		}
		return false, err
	}

	isClose := pkt.Type == message.Close
	if isClose {
		atomic.StoreInt32(&g.stopped, 1)
	}

	if wh != nil {
		if state.Skip {
			wh.Cancel()
		} else {
			outType, outPayload, werr := g.filter.Write(state)
			if werr != nil {
				rh.Close()
				wh.Cancel()
				return false, werr
			}
			if err := wh.Write(message.Packet{Type: outType, Payload: outPayload}.Encode()); err != nil {
				rh.Close()
				wh.Cancel()
				return false, err
			}
			if err := wh.Close(); err != nil {
				rh.Close()
				return false, err
			}
		}
	}

	if err := g.filter.Close(state); err != nil {
		rh.Close()
		return false, err
	}
	rh.Close()

	if isClose {
		// Wake any sibling goroutines blocked waiting on a packet that
		// will never arrive now that input has ended. A single-worker
		// group has no siblings, and leaving its input buffer alive lets
		// callers reuse it for a following segment.
		if g.workers > 1 {
			g.in.Cancel()
		}
		return true, nil
	}
	return false, nil
}

func (g *Group) cancelBoth() {
	g.in.Cancel()
	if g.out != nil {
		g.out.Cancel()
	}
}
