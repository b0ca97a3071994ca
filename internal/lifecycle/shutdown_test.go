package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStackClosesInReverseOrder(t *testing.T) {
	stack := NewStack(nil)
	var order []string
	for _, name := range []string{"history", "loop", "relay"} {
		stack.Push(name, Do(func() { order = append(order, name) }))
	}

	if err := stack.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := strings.Join(order, ","); got != "relay,loop,history" {
		t.Fatalf("unexpected close order: %s", got)
	}
}

func TestStackJoinsErrorsAndKeepsGoing(t *testing.T) {
	stack := NewStack(nil)
	errRelay := errors.New("relay stuck")
	errStore := errors.New("store locked")
	ran := 0

	stack.Push("store", Func(func() error { ran++; return errStore }))
	stack.Push("loop", Do(func() { ran++ }))
	stack.Push("relay", func(ctx context.Context) error { ran++; return errRelay })

	err := stack.Close(context.Background())
	if ran != 3 {
		t.Fatalf("expected all closers to run, ran=%d", ran)
	}
	if !errors.Is(err, errRelay) || !errors.Is(err, errStore) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "relay: relay stuck") {
		t.Fatalf("expected component name in error, got %q", err.Error())
	}
}

func TestStackCloseIsIdempotent(t *testing.T) {
	stack := NewStack(nil)
	calls := 0
	stack.Push("queue", Do(func() { calls++ }))

	if err := stack.Close(context.Background()); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := stack.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestPushAfterCloseRunsImmediately(t *testing.T) {
	stack := NewStack(nil)
	if err := stack.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	ran := false
	stack.Push("late", Do(func() { ran = true }))
	if !ran {
		t.Fatal("expected late closer to run immediately")
	}
}

func TestTerminationSignalsIncludesInterrupt(t *testing.T) {
	if len(TerminationSignals()) == 0 {
		t.Fatal("expected at least one termination signal")
	}
}
