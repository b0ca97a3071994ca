package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go2tv.app/render-bridge/internal/adapters"
	"go2tv.app/render-bridge/internal/domain"
	"go2tv.app/render-bridge/internal/playback"
)

// Options tune a relay engine.
type Options struct {
	Logger    *slog.Logger
	PollEvery time.Duration
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// CastEngine plays renderer sources on a Chromecast receiver.
type CastEngine struct {
	device domain.Device
	client adapters.CastClient
	logger *slog.Logger
	now    func() time.Time

	status status
	w      *worker

	mu     sync.Mutex
	source string
}

// NewCastEngine connects to the device and starts polling its status.
func NewCastEngine(ctx context.Context, factory adapters.CastFactory, device domain.Device, opts Options) (*CastEngine, error) {
	if factory == nil {
		return nil, errors.New("chromecast adapter is not configured")
	}
	logger := opts.logger().With("device", device.Name, "protocol", domain.ProtocolChromecast)

	client, err := factory.NewCastClient(device.Address)
	if err != nil {
		return nil, fmt.Errorf("create chromecast client: %w", err)
	}
	w := &worker{logger: logger, pollEvery: opts.PollEvery}
	if err := w.retry(ctx, "chromecast_connect", client.Connect); err != nil {
		_ = client.Close(false)
		return nil, fmt.Errorf("connect to chromecast: %w", err)
	}

	e := &CastEngine{
		device: device,
		client: client,
		logger: logger,
		w:      w,
		now:    time.Now,
	}
	w.poll = e.poll
	w.start()
	return e, nil
}

func (e *CastEngine) State() playback.State {
	state, _, _ := e.status.snapshot()
	return state
}

func (e *CastEngine) PositionMS() int64 {
	_, pos, _ := e.status.snapshot()
	return pos
}

func (e *CastEngine) DurationMS() int64 {
	_, _, dur := e.status.snapshot()
	return dur
}

// PlayAt loads uri on the receiver. The engine reports Playing until the
// next poll says otherwise.
func (e *CastEngine) PlayAt(uri string) {
	e.mu.Lock()
	e.source = uri
	e.mu.Unlock()

	e.status.reset(playback.Playing)
	e.load("chromecast_load", uri, 0)
}

// Resume restarts the last loaded source when the receiver is not playing
// it. A paused source is reloaded at its last observed position, a stopped
// one from the start.
func (e *CastEngine) Resume() {
	e.mu.Lock()
	uri := e.source
	e.mu.Unlock()
	if uri == "" {
		return
	}

	state, positionMS, _ := e.status.snapshot()
	startSec := 0
	switch state {
	case playback.Playing:
		return
	case playback.Paused:
		startSec = int(positionMS / 1000)
	}
	e.status.setState(playback.Playing)
	e.load("chromecast_resume", uri, startSec)
}

func (e *CastEngine) load(op, uri string, startSec int) {
	e.w.submit(op, func(ctx context.Context) error {
		err := e.w.retry(ctx, op, func() error {
			return e.client.Load(uri, mediaType(uri), startSec, 0, "", isHLS(uri))
		})
		if err != nil {
			e.status.setState(playback.Error)
		}
		return err
	})
}

func (e *CastEngine) Stop() {
	e.status.setState(playback.Stopped)
	e.w.submit("chromecast_stop", func(ctx context.Context) error {
		return e.w.retry(ctx, "chromecast_stop", e.client.Stop)
	})
}

func (e *CastEngine) poll(context.Context) {
	st, err := e.client.GetStatus()
	if err != nil || st == nil {
		return
	}
	state, ok := deviceState(st.PlayerState)
	if !ok {
		return
	}
	e.status.observe(state, secondsToMS(st.CurrentTime), secondsToMS(st.Duration), e.now())
}

// Close stops polling, stops the media when stopMedia is set and releases
// the connection.
func (e *CastEngine) Close(ctx context.Context, stopMedia bool) error {
	var errs []error
	if err := e.w.stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if stopMedia {
		if err := e.client.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
	}
	if err := e.client.Close(stopMedia); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	return errors.Join(errs...)
}

var (
	_ playback.Engine  = (*CastEngine)(nil)
	_ playback.Resumer = (*CastEngine)(nil)
	_ playback.Stopper = (*CastEngine)(nil)
)
