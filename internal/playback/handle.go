package playback

import (
	"sync"
	"sync/atomic"
	"time"
)

type binding struct {
	engine Engine
	gen    uint64
}

// Handle holds the engine of the active session, if any. The engine is bound
// at session start and cleared at session end; every bind gets a new
// generation so callers can tell a rebound engine from the previous one.
type Handle struct {
	cur atomic.Pointer[binding]
	gen atomic.Uint64

	probeMu  sync.Mutex
	inFlight bool
}

func NewHandle() *Handle {
	return &Handle{}
}

// Bind installs e as the active engine and returns its generation.
func (h *Handle) Bind(e Engine) uint64 {
	if e == nil {
		h.Unbind()
		return 0
	}
	gen := h.gen.Add(1)
	h.cur.Store(&binding{engine: e, gen: gen})
	return gen
}

// Unbind clears the active engine and returns it.
func (h *Handle) Unbind() Engine {
	prev := h.cur.Swap(nil)
	if prev == nil {
		return nil
	}
	return prev.engine
}

// Current returns the active engine and its generation, or nil and 0.
func (h *Handle) Current() (Engine, uint64) {
	b := h.cur.Load()
	if b == nil {
		return nil, 0
	}
	return b.engine, b.gen
}

// Probe reads a snapshot from the active engine, waiting at most timeout.
//
// At most one probe runs at a time. A probe that is still running, a probe
// that misses the deadline and a missing engine all report ok=false.
func (h *Handle) Probe(timeout time.Duration) (Snapshot, bool) {
	b := h.cur.Load()
	if b == nil {
		return Snapshot{}, false
	}

	h.probeMu.Lock()
	if h.inFlight {
		h.probeMu.Unlock()
		return Snapshot{}, false
	}
	h.inFlight = true
	h.probeMu.Unlock()

	result := make(chan Snapshot, 1)
	go func() {
		snap := safeTake(b.engine)
		h.probeMu.Lock()
		h.inFlight = false
		h.probeMu.Unlock()
		result <- snap
	}()

	if timeout <= 0 {
		return <-result, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case snap := <-result:
		return snap, true
	case <-timer.C:
		return Snapshot{}, false
	}
}

func safeTake(e Engine) (snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			snap = Snapshot{State: Error}
		}
	}()
	return Take(e)
}
