package avtransport

import (
	"strings"

	"go2tv.app/render-bridge/internal/playback"
)

// TransportState is the AVTransport state reported to control points.
type TransportState int

const (
	Stopped TransportState = iota
	Playing
	Paused
	Transitioning
	Error
)

// String returns the wire value of the state.
func (s TransportState) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Playing:
		return "PLAYING"
	case Paused:
		return "PAUSED_PLAYBACK"
	case Transitioning:
		return "TRANSITIONING"
	case Error:
		return "ERROR"
	default:
		return "STOPPED"
	}
}

// ParseTransportState maps a wire value back to a state. Unknown values are
// reported as Stopped.
func ParseTransportState(v string) TransportState {
	v = strings.ToUpper(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, " ", "_")
	switch v {
	case "PLAYING":
		return Playing
	case "PAUSED_PLAYBACK", "PAUSED":
		return Paused
	case "TRANSITIONING":
		return Transitioning
	case "ERROR":
		return Error
	default:
		return Stopped
	}
}

// FromEngine maps an engine state to the protocol state. The protocol has no
// error transport state, so engine errors degrade to Stopped.
func FromEngine(s playback.State) TransportState {
	switch s {
	case playback.Playing:
		return Playing
	case playback.Paused:
		return Paused
	case playback.Stopped:
		return Stopped
	case playback.Error:
		return Stopped
	default:
		return Stopped
	}
}
