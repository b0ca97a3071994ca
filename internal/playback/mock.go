package playback

import (
	"sync"
	"time"
)

// Mock is a test double for Engine. It is safe for concurrent use.
type Mock struct {
	mu       sync.Mutex
	state    State
	position int64
	duration int64
	delay    time.Duration

	playCalls   []string
	pauseCalls  int
	resumeCalls int
	stopCalls   int
}

// NewMock creates a stopped mock engine.
func NewMock() *Mock {
	return &Mock{state: Stopped}
}

func (m *Mock) State() State {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mock) PositionMS() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) DurationMS() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *Mock) PlayAt(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playCalls = append(m.playCalls, uri)
	m.state = Playing
}

func (m *Mock) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCalls++
	if m.state == Playing {
		m.state = Paused
	}
}

func (m *Mock) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeCalls++
	if m.state == Paused || m.state == Stopped {
		m.state = Playing
	}
}

func (m *Mock) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	m.state = Stopped
}

// SetState sets the reported state.
func (m *Mock) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// SetProgress sets the reported position and duration in milliseconds.
func (m *Mock) SetProgress(positionMS, durationMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = positionMS
	m.duration = durationMS
}

// SetDelay makes State block for d, simulating a stalled engine.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// PlayCalls returns the URIs passed to PlayAt.
func (m *Mock) PlayCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.playCalls...)
}

// PauseCalls returns how many times Pause was called.
func (m *Mock) PauseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseCalls
}

// ResumeCalls returns how many times Resume was called.
func (m *Mock) ResumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumeCalls
}

// StopCalls returns how many times Stop was called.
func (m *Mock) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

var (
	_ Engine  = (*Mock)(nil)
	_ Pauser  = (*Mock)(nil)
	_ Resumer = (*Mock)(nil)
	_ Stopper = (*Mock)(nil)
)
