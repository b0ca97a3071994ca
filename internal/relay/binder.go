// Package relay implements playback engines that forward renderer sources to
// a Chromecast or DLNA device on the LAN.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go2tv.app/render-bridge/internal/adapters"
	"go2tv.app/render-bridge/internal/domain"
	"go2tv.app/render-bridge/internal/playback"
)

type resolver interface {
	Resolve(ctx context.Context, target, protocol string, timeout time.Duration) (*domain.Device, error)
}

type engine interface {
	playback.Engine
	Close(ctx context.Context, stopMedia bool) error
}

// Factories are the go2tv adapters the engines are built from.
type Factories struct {
	Cast      adapters.CastFactory
	DLNA      adapters.DLNAFactory
	Callbacks adapters.CallbackServerFactory
}

// Session describes the bound relay device.
type Session struct {
	ID       string        `json:"session_id"`
	Device   domain.Device `json:"device"`
	BoundAt  time.Time     `json:"bound_at"`
	engine   engine
	bindings uint64
}

// Binder owns the relay engine bound into a playback handle.
type Binder struct {
	handle           *playback.Handle
	resolver         resolver
	factories        Factories
	opts             Options
	discoveryTimeout time.Duration
	logger           *slog.Logger

	mu      sync.Mutex
	current *Session
}

func NewBinder(handle *playback.Handle, resolver resolver, factories Factories, discoveryTimeout time.Duration, opts Options) *Binder {
	return &Binder{
		handle:           handle,
		resolver:         resolver,
		factories:        factories,
		opts:             opts,
		discoveryTimeout: discoveryTimeout,
		logger:           opts.logger(),
	}
}

// Bind resolves target, builds an engine for its protocol and binds it,
// replacing any previously bound relay.
func (b *Binder) Bind(ctx context.Context, target, protocol string) (Session, error) {
	if b.resolver == nil {
		return Session{}, errors.New("relay resolver is not configured")
	}
	device, err := b.resolver.Resolve(ctx, target, protocol, b.discoveryTimeout)
	if err != nil {
		return Session{}, err
	}

	e, err := b.newEngine(ctx, *device)
	if err != nil {
		return Session{}, err
	}

	sess := &Session{
		ID:      uuid.NewString(),
		Device:  *device,
		BoundAt: time.Now(),
		engine:  e,
	}

	b.mu.Lock()
	previous := b.current
	sess.bindings = b.handle.Bind(e)
	b.current = sess
	b.mu.Unlock()

	b.logger.Info("relay_bound",
		"session_id", sess.ID,
		"device", device.Name,
		"protocol", device.Protocol,
		"address", device.Address,
	)

	if previous != nil {
		if err := previous.engine.Close(ctx, true); err != nil {
			b.logger.Warn("relay_close_failed", "session_id", previous.ID, "error", err.Error())
		}
	}
	return *sess, nil
}

func (b *Binder) newEngine(ctx context.Context, device domain.Device) (engine, error) {
	switch device.Protocol {
	case domain.ProtocolChromecast:
		return NewCastEngine(ctx, b.factories.Cast, device, b.opts)
	case domain.ProtocolDLNA:
		return NewDLNAEngine(b.factories.DLNA, b.factories.Callbacks, device, b.opts)
	default:
		return nil, fmt.Errorf("unsupported relay protocol %q", device.Protocol)
	}
}

// Current returns the bound session, if any.
func (b *Binder) Current() (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Session{}, false
	}
	return *b.current, true
}

// Close unbinds the relay engine (unless something else was bound since)
// and stops playback on the device.
func (b *Binder) Close(ctx context.Context) error {
	b.mu.Lock()
	sess := b.current
	b.current = nil
	if sess != nil {
		if _, gen := b.handle.Current(); gen == sess.bindings {
			b.handle.Unbind()
		}
	}
	b.mu.Unlock()

	if sess == nil {
		return nil
	}
	b.logger.Info("relay_unbound", "session_id", sess.ID, "device", sess.Device.Name)
	return sess.engine.Close(ctx, true)
}
