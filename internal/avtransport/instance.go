package avtransport

import "fmt"

// InstanceID is the only transport instance a renderer exposes.
const InstanceID uint32 = 0

const (
	defaultSpeed = "1"
	zeroClock    = "00:00:00"
)

// Evented state variable names, as they appear in LastChange.
const (
	VarTransportState         = "TransportState"
	VarTransportPlaySpeed     = "TransportPlaySpeed"
	VarAVTransportURI         = "AVTransportURI"
	VarAVTransportURIMetaData = "AVTransportURIMetaData"
	VarCurrentTrackURI        = "CurrentTrackURI"
	VarCurrentTrackDuration   = "CurrentTrackDuration"
	VarCurrentMediaDuration   = "CurrentMediaDuration"
	VarRelativeTimePosition   = "RelativeTimePosition"
	VarAbsoluteTimePosition   = "AbsoluteTimePosition"
)

// Instance is the transport state of the single renderer instance.
type Instance struct {
	ID                 uint32
	CurrentURI         string
	CurrentURIMetaData string
	Speed              string
	State              TransportState

	// Clock renderings of the last sample that carried a known duration.
	TrackDuration string
	MediaDuration string
	AbsoluteTime  string
	RelativeTime  string
}

func newInstance() Instance {
	return Instance{
		ID:            InstanceID,
		Speed:         defaultSpeed,
		State:         Stopped,
		TrackDuration: zeroClock,
		MediaDuration: zeroClock,
		AbsoluteTime:  zeroClock,
		RelativeTime:  zeroClock,
	}
}

// FormatClock renders milliseconds as HH:MM:SS, truncating to whole seconds.
func FormatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
