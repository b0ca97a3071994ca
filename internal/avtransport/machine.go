package avtransport

import (
	"strings"
	"sync"

	"go2tv.app/render-bridge/internal/playback"
)

// Machine owns the transport instance. Commands and reconciliation are
// applied under one lock, so readers see either all of an update or none.
type Machine struct {
	changes *ChangeLog

	mu   sync.Mutex
	inst Instance
}

// NewMachine returns a stopped machine that records evented changes into
// changes. A nil log gets a private one.
func NewMachine(changes *ChangeLog) *Machine {
	if changes == nil {
		changes = NewChangeLog()
	}
	return &Machine{
		changes: changes,
		inst:    newInstance(),
	}
}

// ChangeLog returns the log the machine records into.
func (m *Machine) ChangeLog() *ChangeLog {
	return m.changes
}

// SetURI loads a new source. The transport is stopped until the next Play.
func (m *Machine) SetURI(uri, metadata string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inst.CurrentURI = uri
	m.inst.CurrentURIMetaData = metadata
	m.changes.Record(VarAVTransportURI, uri)
	m.changes.Record(VarAVTransportURIMetaData, metadata)
	m.changes.Record(VarCurrentTrackURI, uri)

	m.inst.State = Stopped
	m.changes.Record(VarTransportState, Stopped.String())
}

// Play marks the transport as playing at speed and returns the instance as
// it stood when the change was made. Without a source the transport stays
// stopped.
func (m *Machine) Play(speed string) Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	speed = strings.TrimSpace(speed)
	if speed == "" {
		speed = defaultSpeed
	}
	if m.inst.Speed != speed {
		m.inst.Speed = speed
		m.changes.Record(VarTransportPlaySpeed, speed)
	}
	m.setStateLocked(Playing)
	return m.inst
}

// Pause marks the transport as paused, whatever the previous state.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(Paused)
}

// Stop marks the transport as stopped. The source is kept.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(Stopped)
}

// Reconcile folds an engine snapshot into the instance and reports whether
// any field changed. Duration and position only move with samples whose
// duration is known; older values are kept otherwise.
func (m *Machine) Reconcile(snap playback.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := m.setStateLocked(FromEngine(snap.State))
	if snap.DurationMS <= 0 {
		return changed
	}

	duration := FormatClock(snap.DurationMS)
	position := FormatClock(min(snap.PositionMS, snap.DurationMS))

	if m.inst.TrackDuration != duration {
		m.inst.TrackDuration = duration
		m.changes.Record(VarCurrentTrackDuration, duration)
		changed = true
	}
	if m.inst.MediaDuration != duration {
		m.inst.MediaDuration = duration
		m.changes.Record(VarCurrentMediaDuration, duration)
		changed = true
	}
	if m.inst.RelativeTime != position {
		m.inst.RelativeTime = position
		m.changes.Record(VarRelativeTimePosition, position)
		changed = true
	}
	if m.inst.AbsoluteTime != position {
		m.inst.AbsoluteTime = position
		m.changes.Record(VarAbsoluteTimePosition, position)
		changed = true
	}
	return changed
}

// Query returns a copy of the instance.
func (m *Machine) Query() Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inst
}

// setStateLocked applies next, holding the invariant that a transport
// without a source is stopped.
func (m *Machine) setStateLocked(next TransportState) bool {
	if m.inst.CurrentURI == "" {
		next = Stopped
	}
	if m.inst.State == next {
		return false
	}
	m.inst.State = next
	m.changes.Record(VarTransportState, next.String())
	return true
}
