package avtransport

import (
	"encoding/xml"
	"sync"
	"time"
)

// ChangeRecord is one pending state variable change.
type ChangeRecord struct {
	Variable string
	Value    string
	At       time.Time
}

// ChangeLog collects state variable changes between flushes. A variable
// recorded twice before a flush keeps its first position and its last value.
type ChangeLog struct {
	now func() time.Time

	mu      sync.Mutex
	order   []string
	pending map[string]ChangeRecord
}

func NewChangeLog() *ChangeLog {
	return &ChangeLog{
		now:     time.Now,
		pending: map[string]ChangeRecord{},
	}
}

// Record stores value as the pending value of variable.
func (l *ChangeLog) Record(variable, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[variable]; !ok {
		l.order = append(l.order, variable)
	}
	l.pending[variable] = ChangeRecord{
		Variable: variable,
		Value:    value,
		At:       l.now(),
	}
}

// Len returns the number of pending variables.
func (l *ChangeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Flush returns the pending records in first-recorded order and clears them.
func (l *ChangeLog) Flush() []ChangeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.order) == 0 {
		return nil
	}
	out := make([]ChangeRecord, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.pending[name])
	}
	l.order = nil
	l.pending = map[string]ChangeRecord{}
	return out
}

// FlushSerialized flushes the log and renders it as a LastChange event
// document. It returns nil when nothing was pending.
func (l *ChangeLog) FlushSerialized() []byte {
	records := l.Flush()
	if len(records) == 0 {
		return nil
	}
	payload, err := MarshalLastChange(InstanceID, records)
	if err != nil {
		return nil
	}
	return payload
}

type lastChangeEvent struct {
	XMLName  xml.Name           `xml:"urn:schemas-upnp-org:metadata-1-0/AVT/ Event"`
	Instance lastChangeInstance `xml:"InstanceID"`
}

type lastChangeInstance struct {
	Val  uint32 `xml:"val,attr"`
	Vars []lastChangeVar
}

type lastChangeVar struct {
	XMLName xml.Name
	Val     string `xml:"val,attr"`
}

// MarshalLastChange renders records as a LastChange event for one instance.
func MarshalLastChange(instanceID uint32, records []ChangeRecord) ([]byte, error) {
	event := lastChangeEvent{Instance: lastChangeInstance{Val: instanceID}}
	for _, rec := range records {
		event.Instance.Vars = append(event.Instance.Vars, lastChangeVar{
			XMLName: xml.Name{Local: rec.Variable},
			Val:     rec.Value,
		})
	}
	return xml.Marshal(event)
}

// UnmarshalLastChange parses a LastChange event document. Timestamps are not
// part of the document and are left zero.
func UnmarshalLastChange(data []byte) (uint32, []ChangeRecord, error) {
	var doc struct {
		XMLName  xml.Name `xml:"Event"`
		Instance struct {
			Val  uint32 `xml:"val,attr"`
			Vars []struct {
				XMLName xml.Name
				Val     string `xml:"val,attr"`
			} `xml:",any"`
		} `xml:"InstanceID"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return 0, nil, err
	}
	records := make([]ChangeRecord, 0, len(doc.Instance.Vars))
	for _, v := range doc.Instance.Vars {
		records = append(records, ChangeRecord{Variable: v.XMLName.Local, Value: v.Val})
	}
	return doc.Instance.Val, records, nil
}
