// Package syncloop periodically folds the playback engine state into the
// transport state machine and publishes the resulting LastChange events.
package syncloop

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"go2tv.app/render-bridge/internal/playback"
)

const (
	DefaultInterval = time.Second

	// Probes get a share of the period so a stalled engine cannot push one
	// tick into the next.
	defaultProbeShare = 2
)

type prober interface {
	Probe(timeout time.Duration) (playback.Snapshot, bool)
}

type reconciler interface {
	Reconcile(snap playback.Snapshot) bool
}

type flusher interface {
	FlushSerialized() []byte
}

type publisher interface {
	Publish(payload []byte)
}

type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// Loop is the only caller of Reconcile.
type Loop struct {
	probe        prober
	machine      reconciler
	changes      flusher
	sink         publisher
	interval     time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks   int
	skipped int
	statsMu sync.Mutex
}

func New(probe prober, machine reconciler, changes flusher, sink publisher, cfg Config) *Loop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 || probeTimeout >= interval {
		probeTimeout = interval / defaultProbeShare
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Loop{
		probe:        probe,
		machine:      machine,
		changes:      changes,
		sink:         sink,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Start launches the loop. Starting a running loop does nothing.
func (l *Loop) Start() {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)

	l.logger.Info("sync_loop_start", slog.Duration("interval", l.interval), slog.Duration("probe_timeout", l.probeTimeout))
}

// Stop cancels the loop and waits for the running tick, if any. No
// reconciliation happens after Stop returns. Stopping a stopped loop does
// nothing.
func (l *Loop) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil

	l.logger.Info("sync_loop_stop")
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.cancel != nil
}

// Stats returns how many ticks ran and how many of them had no usable
// engine snapshot.
func (l *Loop) Stats() (ticks, skipped int) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.ticks, l.skipped
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	l.tick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	snap, ok := l.probe.Probe(l.probeTimeout)
	if ok && ctx.Err() == nil {
		l.machine.Reconcile(snap)
	} else if !ok {
		l.logger.Debug("sync_tick_skipped")
	}
	l.countTick(!ok)

	if payload := l.changes.FlushSerialized(); len(payload) > 0 && l.sink != nil {
		l.sink.Publish(payload)
	}
}

func (l *Loop) countTick(skipped bool) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.ticks++
	if skipped {
		l.skipped++
	}
}
