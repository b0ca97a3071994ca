package playback

// State is the playback state reported by an engine.
//
// Engine errors are folded into Error; the detail behind them travels through
// the engine's own listener channel, not through this value.
type State int

const (
	Stopped State = iota
	Playing
	Paused
	Error
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Engine is the playback engine as seen by the renderer. Queries must be cheap;
// PlayAt is fire-and-forget.
type Engine interface {
	State() State
	PositionMS() int64
	DurationMS() int64
	PlayAt(uri string)
}

// Pauser is implemented by engines that can pause on a remote request.
type Pauser interface {
	Pause()
}

// Resumer is implemented by engines that can resume a paused source.
type Resumer interface {
	Resume()
}

// Stopper is implemented by engines that can stop on a remote request.
type Stopper interface {
	Stop()
}

// Snapshot is a point-in-time view of an engine.
type Snapshot struct {
	State      State
	PositionMS int64
	// DurationMS is zero when the engine does not know the duration yet.
	DurationMS int64
}

// Take reads a snapshot from e, clamping negative values to zero.
func Take(e Engine) Snapshot {
	return Snapshot{
		State:      e.State(),
		PositionMS: max(e.PositionMS(), 0),
		DurationMS: max(e.DurationMS(), 0),
	}
}
