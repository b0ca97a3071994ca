// Package discovery lists the LAN devices a renderer can relay to and
// resolves a configured target name to one of them.
package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"go2tv.app/render-bridge/internal/adapters"
	"go2tv.app/render-bridge/internal/domain"
)

const (
	DefaultTimeout        = 2500 * time.Millisecond
	fallbackTimeout       = 12 * time.Second
	reachabilityWait      = 400 * time.Millisecond
	maxPerAttemptDuration = 3 * time.Second
	minDelaySeconds       = 1
)

// ErrDeviceNotFound is returned by Resolve when no device matches.
var ErrDeviceNotFound = errors.New("relay target not found")

var isReachableAddress = dialAddress

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	logger  *slog.Logger
	once    sync.Once
}

// NewService returns a Service. The Chromecast discovery loop is started
// lazily on first use and lives as long as loopCtx.
func NewService(adapter adapters.Discovery, loopCtx context.Context, logger *slog.Logger) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{adapter: adapter, loopCtx: loopCtx, logger: logger}
}

type loadResult struct {
	devices []devices.Device
	err     error
}

// ListDevices returns the devices that answered within timeout, sorted with
// DLNA first. A timeout is not an error.
func (s *Service) ListDevices(ctx context.Context, timeout time.Duration, includeUnreachable bool) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	resultCh := make(chan loadResult, 1)
	go func() {
		loaded, err := s.loadUntil(ctx, time.Now().Add(timeout))
		resultCh <- loadResult{devices: loaded, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		s.logger.Debug("discovery_timeout", "timeout_ms", timeout.Milliseconds())
		return []domain.Device{}, nil
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, devices.ErrNoDeviceAvailable) {
				return []domain.Device{}, nil
			}
			return nil, result.err
		}

		found := normalizeDevices(result.devices)
		if !includeUnreachable {
			found = slices.DeleteFunc(found, func(d domain.Device) bool {
				return !isReachableAddress(d.Address, reachabilityWait)
			})
		}
		sortDevices(found)
		return found, nil
	}
}

// loadUntil keeps asking the adapter while it reports no devices, since the
// Chromecast loop needs a moment to warm up.
func (s *Service) loadUntil(ctx context.Context, deadline time.Time) ([]devices.Device, error) {
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr == nil || errors.Is(lastErr, devices.ErrNoDeviceAvailable) {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}

		loaded, err := s.adapter.LoadAllDevices(delaySeconds(min(remaining, maxPerAttemptDuration)))
		if err == nil {
			return loaded, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}
		lastErr = err
	}
}

// Resolve finds the device named by target (ID, exact name, or name without
// a trailing "(...)" suffix), optionally restricted to one protocol. A miss
// on the short timeout is retried once with a longer one.
func (s *Service) Resolve(ctx context.Context, target, protocol string, timeout time.Duration) (*domain.Device, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is empty", ErrDeviceNotFound)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	for _, wait := range []time.Duration{timeout, max(timeout, fallbackTimeout)} {
		found, err := s.ListDevices(ctx, wait, true)
		if err != nil {
			return nil, fmt.Errorf("device discovery failed: %w", err)
		}
		if protocol != "" {
			found = slices.DeleteFunc(found, func(d domain.Device) bool { return d.Protocol != protocol })
		}
		if dev := matchTarget(found, target); dev != nil {
			return dev, nil
		}
		if wait >= fallbackTimeout {
			break
		}
		s.logger.Debug("relay_target_retry", "target", target, "next_timeout_ms", fallbackTimeout.Milliseconds())
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, target)
}

func matchTarget(all []domain.Device, target string) *domain.Device {
	for i := range all {
		if all[i].ID == target || all[i].Name == target || all[i].Address == target {
			return &all[i]
		}
	}
	short := shortName(target)
	for i := range all {
		if strings.EqualFold(all[i].ID, target) || strings.EqualFold(all[i].Name, target) {
			return &all[i]
		}
		if shortName(all[i].Name) == short {
			return &all[i]
		}
	}
	return nil
}

// shortName lowercases v and drops a trailing " (...)" suffix such as
// "(Chromecast Audio)".
func shortName(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(v, " ("); idx > 0 && strings.HasSuffix(v, ")") {
		v = strings.TrimSpace(v[:idx])
	}
	return v
}

func delaySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < minDelaySeconds {
		return minDelaySeconds
	}
	return seconds
}

func normalizeDevices(discovered []devices.Device) []domain.Device {
	out := make([]domain.Device, 0, len(discovered))
	for _, raw := range discovered {
		protocol := normalizeProtocol(raw.Type)
		address := strings.TrimSpace(raw.Addr)
		out = append(out, domain.Device{
			ID:        stableID(protocol, address),
			Name:      strings.TrimSpace(raw.Name),
			Address:   address,
			Protocol:  protocol,
			AudioOnly: raw.IsAudioOnly,
		})
	}
	return out
}

func sortDevices(all []domain.Device) {
	slices.SortFunc(all, func(a, b domain.Device) int {
		if r := protocolRank(a.Protocol) - protocolRank(b.Protocol); r != 0 {
			return r
		}
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		if c := strings.Compare(strings.ToLower(a.Address), strings.ToLower(b.Address)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func protocolRank(protocol string) int {
	switch protocol {
	case domain.ProtocolDLNA:
		return 0
	case domain.ProtocolChromecast:
		return 1
	default:
		return 2
	}
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(lower, "chrome"):
		return domain.ProtocolChromecast
	case strings.Contains(lower, "dlna"):
		return domain.ProtocolDLNA
	default:
		return lower
	}
}

// stableID derives an ID from protocol and address so it survives rescans.
func stableID(protocol, address string) string {
	sum := sha1.Sum([]byte(protocol + "|" + canonicalAddress(address)))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(strings.TrimSpace(address))
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(address))
	}
	path := strings.ToLower(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	return strings.ToLower(parsed.Scheme) + "://" + hostPort(parsed) + path
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if strings.EqualFold(u.Scheme, "https") {
			port = "443"
		}
	}
	return net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}

func dialAddress(address string, timeout time.Duration) bool {
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return false
	}
	conn, err := net.DialTimeout("tcp", hostPort(parsed), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
