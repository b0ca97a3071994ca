package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/soapcalls"

	"go2tv.app/render-bridge/internal/adapters"
	"go2tv.app/render-bridge/internal/domain"
	"go2tv.app/render-bridge/internal/playback"
)

// DLNAEngine plays renderer sources on a DLNA media renderer. The renderer
// fetches the URI directly; a local callback server receives its GENA
// notifications.
type DLNAEngine struct {
	device   domain.Device
	payloads adapters.DLNAFactory
	servers  adapters.CallbackServerFactory
	logger   *slog.Logger
	now      func() time.Time

	status    status
	callbacks chan string
	w         *worker

	mu      sync.Mutex
	payload adapters.DLNAPayload
	server  adapters.CallbackServer
}

func NewDLNAEngine(payloads adapters.DLNAFactory, servers adapters.CallbackServerFactory, device domain.Device, opts Options) (*DLNAEngine, error) {
	if payloads == nil || servers == nil {
		return nil, errors.New("dlna adapter is not configured")
	}
	logger := opts.logger().With("device", device.Name, "protocol", domain.ProtocolDLNA)

	e := &DLNAEngine{
		device:    device,
		payloads:  payloads,
		servers:   servers,
		logger:    logger,
		now:       time.Now,
		callbacks: make(chan string, callbackQueueSize),
	}
	e.w = &worker{
		logger:     logger,
		pollEvery:  opts.PollEvery,
		poll:       e.poll,
		callbacks:  e.callbacks,
		onCallback: e.onCallback,
	}
	e.w.start()
	return e, nil
}

func (e *DLNAEngine) State() playback.State {
	state, _, _ := e.status.snapshot()
	return state
}

func (e *DLNAEngine) PositionMS() int64 {
	_, pos, _ := e.status.snapshot()
	return pos
}

func (e *DLNAEngine) DurationMS() int64 {
	_, _, dur := e.status.snapshot()
	return dur
}

func (e *DLNAEngine) PlayAt(uri string) {
	e.status.reset(playback.Playing)
	e.w.submit("dlna_play", func(ctx context.Context) error {
		if err := e.launch(ctx, uri); err != nil {
			e.status.setState(playback.Error)
			return err
		}
		return nil
	})
}

func (e *DLNAEngine) Pause() {
	e.status.setState(playback.Paused)
	e.send("Pause")
}

func (e *DLNAEngine) Resume() {
	e.status.setState(playback.Playing)
	e.send("Play")
}

func (e *DLNAEngine) Stop() {
	e.status.setState(playback.Stopped)
	e.send("Stop")
}

func (e *DLNAEngine) send(action string) {
	op := "dlna_" + strings.ToLower(action)
	e.w.submit(op, func(ctx context.Context) error {
		payload := e.currentPayload()
		if payload == nil {
			return nil
		}
		return e.w.retry(ctx, op, func() error { return payload.SendtoTV(action) })
	})
}

func (e *DLNAEngine) launch(ctx context.Context, uri string) error {
	e.release()

	payload, err := e.payloads.NewTVPayload(&soapcalls.Options{
		Ctx:   ctx,
		DMR:   e.device.Address,
		Media: uri,
		Mtype: mediaType(uri),
		Seek:  true,
	})
	if err != nil {
		return fmt.Errorf("initialize dlna payload: %w", err)
	}
	payload.SetContext(ctx)

	server := e.servers.NewCallbackServer(payload.ListenAddress())
	serverStarted := make(chan error, 1)
	go server.StartServer(serverStarted, []byte{}, "", payload.RawPayload(), &callbackScreen{ch: e.callbacks})
	if err := <-serverStarted; err != nil {
		return fmt.Errorf("start dlna callback server: %w", err)
	}

	// The renderer pulls the source itself.
	payload.SetMediaURL(uri)

	if err := e.w.retry(ctx, "dlna_play", func() error { return payload.SendtoTV("Play1") }); err != nil {
		server.StopServer()
		return fmt.Errorf("start dlna playback: %w", err)
	}

	e.mu.Lock()
	e.payload = payload
	e.server = server
	e.mu.Unlock()
	e.logger.Debug("dlna_playback_started", "uri", uri)
	return nil
}

// release stops the callback server of the previous source.
func (e *DLNAEngine) release() {
	e.mu.Lock()
	server := e.server
	e.payload = nil
	e.server = nil
	e.mu.Unlock()
	if server != nil {
		server.StopServer()
	}
}

func (e *DLNAEngine) currentPayload() adapters.DLNAPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payload
}

func (e *DLNAEngine) poll(context.Context) {
	payload := e.currentPayload()
	if payload == nil {
		return
	}

	transport, err := payload.GetTransportInfo()
	if err != nil || len(transport) == 0 {
		return
	}
	state, ok := deviceState(transport[0])
	if !ok {
		return
	}

	positionMS, durationMS := int64(-1), int64(-1)
	if state == playback.Playing || state == playback.Paused {
		if p, err := payload.GetPositionInfo(); err == nil && len(p) >= 2 {
			if v, ok := parseClock(p[0]); ok {
				durationMS = v
			}
			if v, ok := parseClock(p[1]); ok {
				positionMS = v
			}
		}
	}
	e.status.observe(state, positionMS, durationMS, e.now())
}

func (e *DLNAEngine) onCallback(msg string) {
	if state, ok := deviceState(msg); ok {
		e.status.setState(state)
	}
}

func (e *DLNAEngine) Close(ctx context.Context, stopMedia bool) error {
	var errs []error
	if err := e.w.stop(ctx); err != nil {
		errs = append(errs, err)
	}

	e.mu.Lock()
	payload, server := e.payload, e.server
	e.payload, e.server = nil, nil
	e.mu.Unlock()

	if payload != nil && stopMedia {
		payload.SetContext(ctx)
		if err := payload.SendtoTV("Stop"); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
	}
	if server != nil {
		server.StopServer()
	}
	return errors.Join(errs...)
}

// callbackScreen receives transport state strings from the callback server.
type callbackScreen struct {
	ch chan<- string
}

func (s *callbackScreen) EmitMsg(msg string) {
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *callbackScreen) Fini() {}

func (s *callbackScreen) SetMediaType(string) {}

var (
	_ playback.Engine  = (*DLNAEngine)(nil)
	_ playback.Pauser  = (*DLNAEngine)(nil)
	_ playback.Resumer = (*DLNAEngine)(nil)
	_ playback.Stopper = (*DLNAEngine)(nil)
)
