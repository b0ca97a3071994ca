package playback

import (
	"testing"
	"time"
)

func TestHandleProbeWithoutEngine(t *testing.T) {
	h := NewHandle()

	if _, ok := h.Probe(50 * time.Millisecond); ok {
		t.Fatal("expected probe without engine to report unknown")
	}
}

func TestHandleBindReturnsNewGeneration(t *testing.T) {
	h := NewHandle()

	first := h.Bind(NewMock())
	second := h.Bind(NewMock())
	if first == 0 || second <= first {
		t.Fatalf("expected increasing generations, got %d then %d", first, second)
	}

	_, gen := h.Current()
	if gen != second {
		t.Fatalf("Current() generation = %d, want %d", gen, second)
	}

	if prev := h.Unbind(); prev == nil {
		t.Fatal("expected Unbind to return the bound engine")
	}
	if e, gen := h.Current(); e != nil || gen != 0 {
		t.Fatal("expected no engine after Unbind")
	}
}

func TestHandleProbeReadsSnapshot(t *testing.T) {
	m := NewMock()
	m.SetState(Paused)
	m.SetProgress(65_000, 3_600_000)

	h := NewHandle()
	h.Bind(m)

	snap, ok := h.Probe(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected probe to succeed")
	}
	if snap.State != Paused || snap.PositionMS != 65_000 || snap.DurationMS != 3_600_000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHandleProbeClampsNegativeValues(t *testing.T) {
	m := NewMock()
	m.SetProgress(-5, -1)

	h := NewHandle()
	h.Bind(m)

	snap, ok := h.Probe(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected probe to succeed")
	}
	if snap.PositionMS != 0 || snap.DurationMS != 0 {
		t.Fatalf("expected clamped values, got %+v", snap)
	}
}

func TestHandleProbeTimesOutAndDoesNotOverlap(t *testing.T) {
	m := NewMock()
	m.SetDelay(200 * time.Millisecond)

	h := NewHandle()
	h.Bind(m)

	start := time.Now()
	if _, ok := h.Probe(20 * time.Millisecond); ok {
		t.Fatal("expected stalled probe to report unknown")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("probe did not honor its timeout: %s", elapsed)
	}

	// The first probe is still running inside the engine.
	if _, ok := h.Probe(20 * time.Millisecond); ok {
		t.Fatal("expected overlapping probe to be refused")
	}

	m.SetDelay(0)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.Probe(50 * time.Millisecond); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected probe to recover once the engine answers")
}

type panicEngine struct{ Mock }

func (*panicEngine) State() State { panic("engine gone") }

func TestHandleProbeRecoversFromEnginePanic(t *testing.T) {
	h := NewHandle()
	h.Bind(&panicEngine{})

	snap, ok := h.Probe(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected probe to answer")
	}
	if snap.State != Error {
		t.Fatalf("State = %v, want Error", snap.State)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Stopped:   "Stopped",
		Playing:   "Playing",
		Paused:    "Paused",
		Error:     "Error",
		State(42): "Unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
