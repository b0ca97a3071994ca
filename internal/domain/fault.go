package domain

import "strconv"

// AVTransport fault codes reported to control points.
const (
	FaultInvalidAction     = 401
	FaultInvalidArgs       = 402
	FaultActionFailed      = 501
	FaultInvalidInstanceID = 718
)

// Fault is an action failure surfaced to the calling control point.
type Fault struct {
	Code        int            `json:"code"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

func (f *Fault) Error() string {
	if f == nil {
		return ""
	}
	return strconv.Itoa(f.Code) + ": " + f.Description
}

// InvalidInstance reports an instance id other than the single supported one.
func InvalidInstance(instanceID int64) *Fault {
	return &Fault{
		Code:        FaultInvalidInstanceID,
		Description: "Invalid InstanceID",
		Details:     map[string]any{"instance_id": instanceID},
	}
}
