// Package lifecycle handles process termination: the signals that end the
// renderer and the ordered release of what it started.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Closer releases one component. It must honor ctx.
type Closer func(ctx context.Context) error

// Stack releases components in reverse registration order.
type Stack struct {
	mu      sync.Mutex
	entries []stackEntry
	closed  bool
	logger  *slog.Logger
}

type stackEntry struct {
	name  string
	close Closer
}

func NewStack(logger *slog.Logger) *Stack {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Stack{logger: logger}
}

// Push registers a closer. Closers pushed after Close run immediately.
func (s *Stack) Push(name string, c Closer) {
	s.mu.Lock()
	if !s.closed {
		s.entries = append(s.entries, stackEntry{name: name, close: c})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := c(context.Background()); err != nil {
		s.logger.Warn("shutdown_step_failed", slog.String("component", name), slog.String("error", err.Error()))
	}
}

// Close runs every registered closer, last pushed first, and joins their
// errors. Later calls return nil.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.close(ctx); err != nil {
			s.logger.Warn("shutdown_step_failed", slog.String("component", e.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		s.logger.Debug("shutdown_step", slog.String("component", e.name))
	}
	return errors.Join(errs...)
}

// Func adapts a context-free close function.
func Func(fn func() error) Closer {
	return func(context.Context) error { return fn() }
}

// Do adapts a close function that cannot fail.
func Do(fn func()) Closer {
	return func(context.Context) error {
		fn()
		return nil
	}
}
