// Package renderer exposes the AVTransport action surface of the renderer.
package renderer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go2tv.app/render-bridge/internal/avtransport"
	"go2tv.app/render-bridge/internal/domain"
	"go2tv.app/render-bridge/internal/playback"
)

const (
	defaultSoftFailureEvery = 30 * time.Second
	historyWriteTimeout     = 2 * time.Second

	transportStatusOK = "OK"
)

// Launch describes one engine start for a source.
type Launch struct {
	URI      string
	MetaData string
	At       time.Time
}

type launchRecorder interface {
	RecordLaunch(ctx context.Context, l Launch) error
}

type lastChangePoller interface {
	Poll() []byte
}

type TransportInfo struct {
	CurrentTransportState  string `json:"current_transport_state"`
	CurrentTransportStatus string `json:"current_transport_status"`
	CurrentSpeed           string `json:"current_speed"`
}

type MediaInfo struct {
	CurrentURI         string `json:"current_uri"`
	CurrentURIMetaData string `json:"current_uri_metadata"`
	MediaDuration      string `json:"media_duration"`
}

type PositionInfo struct {
	TrackURI      string `json:"track_uri"`
	TrackDuration string `json:"track_duration"`
	RelTime       string `json:"rel_time"`
	AbsTime       string `json:"abs_time"`
}

type Config struct {
	Logger *slog.Logger
	// History receives every engine launch when set.
	History launchRecorder
	// SoftFailureEvery bounds how often an unbound-engine play is logged at
	// warning level.
	SoftFailureEvery time.Duration
}

// Dispatcher maps control point actions onto the transport state machine
// and starts the playback engine when a new source is played.
type Dispatcher struct {
	machine *avtransport.Machine
	engines *playback.Handle
	events  lastChangePoller
	history launchRecorder
	logger  *slog.Logger
	now     func() time.Time

	softFailures *rate.Limiter

	launchMu    sync.Mutex
	launchedURI string
	launchedGen uint64
}

func New(machine *avtransport.Machine, engines *playback.Handle, events lastChangePoller, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	every := cfg.SoftFailureEvery
	if every <= 0 {
		every = defaultSoftFailureEvery
	}

	return &Dispatcher{
		machine:      machine,
		engines:      engines,
		events:       events,
		history:      cfg.History,
		logger:       logger,
		now:          time.Now,
		softFailures: rate.NewLimiter(rate.Every(every), 1),
	}
}

func (d *Dispatcher) SetAVTransportURI(instanceID uint32, uri, metadata string) error {
	if err := checkInstance(instanceID); err != nil {
		return err
	}
	d.logAction("SetAVTransportURI", slog.String("uri", uri))
	d.machine.SetURI(uri, metadata)
	return nil
}

// Play updates the transport state and starts the engine for a source it has
// not started yet. An unbound engine is not an error for the caller.
func (d *Dispatcher) Play(instanceID uint32, speed string) error {
	if err := checkInstance(instanceID); err != nil {
		return err
	}
	inst := d.machine.Play(speed)
	d.logAction("Play", slog.String("uri", inst.CurrentURI), slog.String("speed", inst.Speed))
	d.dispatchPlay(inst)
	return nil
}

func (d *Dispatcher) Pause(instanceID uint32) error {
	if err := checkInstance(instanceID); err != nil {
		return err
	}
	d.machine.Pause()
	d.logAction("Pause")

	if engine, _ := d.engines.Current(); engine != nil && d.machine.Query().CurrentURI != "" {
		if p, ok := engine.(playback.Pauser); ok {
			d.callEngine("pause", p.Pause)
		}
	}
	return nil
}

// Stop stops the transport and the engine. The source stays launched, so the
// next Play resumes it on the same engine.
func (d *Dispatcher) Stop(instanceID uint32) error {
	if err := checkInstance(instanceID); err != nil {
		return err
	}
	d.machine.Stop()
	d.logAction("Stop")

	if engine, _ := d.engines.Current(); engine != nil {
		if s, ok := engine.(playback.Stopper); ok {
			d.callEngine("stop", s.Stop)
		}
	}
	return nil
}

func (d *Dispatcher) GetTransportInfo(instanceID uint32) (TransportInfo, error) {
	if err := checkInstance(instanceID); err != nil {
		return TransportInfo{}, err
	}
	inst := d.machine.Query()
	return TransportInfo{
		CurrentTransportState:  inst.State.String(),
		CurrentTransportStatus: transportStatusOK,
		CurrentSpeed:           inst.Speed,
	}, nil
}

func (d *Dispatcher) GetMediaInfo(instanceID uint32) (MediaInfo, error) {
	if err := checkInstance(instanceID); err != nil {
		return MediaInfo{}, err
	}
	inst := d.machine.Query()
	return MediaInfo{
		CurrentURI:         inst.CurrentURI,
		CurrentURIMetaData: inst.CurrentURIMetaData,
		MediaDuration:      inst.MediaDuration,
	}, nil
}

func (d *Dispatcher) GetPositionInfo(instanceID uint32) (PositionInfo, error) {
	if err := checkInstance(instanceID); err != nil {
		return PositionInfo{}, err
	}
	inst := d.machine.Query()
	return PositionInfo{
		TrackURI:      inst.CurrentURI,
		TrackDuration: inst.TrackDuration,
		RelTime:       inst.RelativeTime,
		AbsTime:       inst.AbsoluteTime,
	}, nil
}

// PollLastChange returns the oldest unread LastChange payload, or nil.
func (d *Dispatcher) PollLastChange() []byte {
	if d.events == nil {
		return nil
	}
	return d.events.Poll()
}

func (d *Dispatcher) dispatchPlay(inst avtransport.Instance) {
	uri := inst.CurrentURI
	if uri == "" {
		d.logger.Debug("play_dispatch_skipped", slog.String("reason", "no_uri"))
		return
	}

	engine, gen := d.engines.Current()
	if engine == nil {
		d.softFailure("play", uri)
		return
	}

	d.launchMu.Lock()
	if d.launchedURI == uri && d.launchedGen == gen {
		d.launchMu.Unlock()
		if r, ok := engine.(playback.Resumer); ok {
			d.callEngine("resume", r.Resume)
		}
		return
	}
	d.callEngine("play_at", func() { engine.PlayAt(uri) })
	d.launchedURI = uri
	d.launchedGen = gen
	d.launchMu.Unlock()

	d.logger.Info("play_dispatched", slog.String("uri", uri), slog.Uint64("engine_generation", gen))
	d.recordLaunch(Launch{URI: uri, MetaData: inst.CurrentURIMetaData, At: d.now()})
}

func (d *Dispatcher) recordLaunch(l Launch) {
	if d.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := d.history.RecordLaunch(ctx, l); err != nil {
		d.logger.Warn("history_write_failed", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) softFailure(op, uri string) {
	level := slog.LevelDebug
	if d.softFailures.Allow() {
		level = slog.LevelWarn
	}
	d.logger.Log(context.Background(), level, "engine_unavailable",
		slog.String("op", op),
		slog.String("uri", uri),
	)
}

func (d *Dispatcher) callEngine(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("engine_call_failed", slog.String("op", op), slog.String("error", fmt.Sprint(r)))
		}
	}()
	fn()
}

func (d *Dispatcher) logAction(name string, attrs ...any) {
	attrs = append([]any{slog.String("name", name)}, attrs...)
	d.logger.Debug("action", attrs...)
}

func checkInstance(instanceID uint32) error {
	if instanceID != avtransport.InstanceID {
		return domain.InvalidInstance(int64(instanceID))
	}
	return nil
}
