package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultPollEvery  = time.Second
	commandQueueSize  = 8
	callbackQueueSize = 16
)

type command struct {
	op  string
	run func(ctx context.Context) error
}

// worker serializes device calls for one engine: queued commands, periodic
// status polls and callback notifications all run on a single goroutine.
type worker struct {
	logger     *slog.Logger
	pollEvery  time.Duration
	poll       func(ctx context.Context)
	callbacks  <-chan string
	onCallback func(msg string)
	// policy applies to device calls made through retry. Zero means
	// defaultRetryPolicy.
	policy retryPolicy

	ctx      context.Context
	cancel   context.CancelFunc
	cmds     chan command
	done     chan struct{}
	stopOnce sync.Once
}

func (w *worker) start() {
	if w.pollEvery <= 0 {
		w.pollEvery = defaultPollEvery
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.cmds = make(chan command, commandQueueSize)
	w.done = make(chan struct{})
	go w.run()
}

func (w *worker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	callbacks := w.callbacks
	for {
		select {
		case <-w.ctx.Done():
			return
		case cmd := <-w.cmds:
			if err := cmd.run(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logger.Warn("relay_command_failed", "operation", cmd.op, "error", err.Error())
			}
		case msg, ok := <-callbacks:
			if !ok {
				callbacks = nil
				continue
			}
			if w.onCallback != nil {
				w.onCallback(msg)
			}
		case <-ticker.C:
			if w.poll != nil {
				w.poll(w.ctx)
			}
		}
	}
}

// submit queues a command without blocking the caller.
func (w *worker) submit(op string, run func(ctx context.Context) error) bool {
	if w.ctx.Err() != nil {
		return false
	}
	select {
	case w.cmds <- command{op: op, run: run}:
		return true
	default:
		w.logger.Warn("relay_command_dropped", "operation", op)
		return false
	}
}

// retry runs a device call under the worker's retry policy.
func (w *worker) retry(ctx context.Context, op string, call func() error) error {
	policy := w.policy
	if policy.attempts == 0 {
		policy = defaultRetryPolicy
	}
	return policy.call(ctx, call, func(attempt int, delay time.Duration, err error) {
		w.logger.Debug("relay_retry",
			"operation", op,
			"attempt", attempt+1,
			"attempts", policy.attempts,
			"backoff_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
	})
}

// stop cancels the worker and waits for the running call to return.
func (w *worker) stop(ctx context.Context) error {
	w.stopOnce.Do(w.cancel)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
