package relay

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"go2tv.app/render-bridge/internal/playback"
)

// status is the last observed device state. Engine queries read it without
// touching the network.
type status struct {
	mu         sync.Mutex
	state      playback.State
	positionMS int64
	durationMS int64
	observedAt time.Time
}

func (s *status) snapshot() (playback.State, int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.positionMS, s.durationMS
}

func (s *status) setState(state playback.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// observe records a poll result. Negative values leave the previous
// position or duration in place.
func (s *status) observe(state playback.State, positionMS, durationMS int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if positionMS >= 0 {
		s.positionMS = positionMS
	}
	if durationMS >= 0 {
		s.durationMS = durationMS
	}
	s.observedAt = at
}

// reset clears progress for a new source.
func (s *status) reset(state playback.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.positionMS = 0
	s.durationMS = 0
}

// deviceState maps Chromecast player states and DLNA transport states onto
// engine states. ok is false for states that carry no information.
func deviceState(raw string) (playback.State, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "PLAYING", "BUFFERING", "TRANSITIONING":
		return playback.Playing, true
	case "PAUSED", "PAUSED_PLAYBACK":
		return playback.Paused, true
	case "STOPPED", "IDLE", "NO_MEDIA_PRESENT":
		return playback.Stopped, true
	case "ERROR":
		return playback.Error, true
	default:
		return playback.Stopped, false
	}
}

// parseClock parses "H+:MM:SS" with an optional fractional part. DLNA
// renderers report unknown values as "NOT_IMPLEMENTED" or empty.
func parseClock(raw string) (int64, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, false
	}
	return (hours*3600+minutes*60)*1000 + int64(seconds*1000), true
}

func secondsToMS(v float32) int64 {
	if v <= 0 {
		return 0
	}
	return int64(float64(v) * 1000)
}
