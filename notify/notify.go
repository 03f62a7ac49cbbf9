// Package notify delivers fire-and-forget operator alerts.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	extErrors "github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event names an alert
type Event string

const (
	EventDepositCredited Event = "deposit.credited"
	EventDepositPartial  Event = "deposit.partial"
	EventDepositError    Event = "deposit.error"
)

// Alert is a single notification. Fields are free-form string attributes.
type Alert struct {
	Event  Event
	Time   time.Time
	Fields map[string]string
}

// Sink publishes alerts. Callers treat failures as non-fatal.
type Sink interface {
	Notify(ctx context.Context, alert Alert) error
}

// Encode serializes the alert as a protobuf Struct
func (a Alert) Encode() ([]byte, error) {
	fields := make(map[string]interface{}, len(a.Fields))
	for k, v := range a.Fields {
		fields[k] = v
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"event":  string(a.Event),
		"time":   a.Time.UTC().Format(time.RFC3339Nano),
		"fields": fields,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot convert alert into struct")
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode alert into bytes")
	}
	return b, nil
}

// Decode is the inverse of Encode
func Decode(b []byte) (Alert, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Alert{}, extErrors.Wrap(err, "Cannot decode alert")
	}
	m := s.AsMap()
	a := Alert{Fields: map[string]string{}}
	if ev, ok := m["event"].(string); ok {
		a.Event = Event(ev)
	}
	if ts, ok := m["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.Time = t
		}
	}
	if fields, ok := m["fields"].(map[string]interface{}); ok {
		for k, v := range fields {
			if str, ok := v.(string); ok {
				a.Fields[k] = str
			}
		}
	}
	return a, nil
}

// Nop discards every alert
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }

// Recorder keeps alerts in memory
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Events returns the recorded event names in order
func (r *Recorder) Events() []Event {
	alerts := r.Alerts()
	out := make([]Event, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Event)
	}
	return out
}

// FieldKeys returns the sorted field names of an alert
func (a Alert) FieldKeys() []string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
