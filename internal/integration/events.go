// Package integration consumes the sync and delete events of the message bus
// and publishes the derived events of this service.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haniot/mhealth-sub002/internal/integration/outbox"
	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
)

// EventType describes one event of the bus contract.
type EventType struct {
	Name       string
	Type       string
	RoutingKey string
	PayloadKey string
}

var (
	WeightSyncEvent           = EventType{"WeightSyncEvent", "weights", "weights.sync", "weight"}
	PhysicalActivitySyncEvent = EventType{"PhysicalActivitySyncEvent", "physicalactivities", "physicalactivities.sync", "physical_activity"}
	SleepSyncEvent            = EventType{"SleepSyncEvent", "sleep", "sleep.sync", "sleep"}
	UserDeleteEvent           = EventType{"UserDeleteEvent", "users", "users.delete", "user"}
	WeightLastSaveEvent       = EventType{"WeightLastSaveEvent", "weights", "weights.last-save", "weight"}
	HeightLastSaveEvent       = EventType{"HeightLastSaveEvent", "heights", "heights.last-save", "height"}
)

// resurrectable are the derived events the outbox task may republish.
var resurrectable = map[string]EventType{
	WeightLastSaveEvent.Name: WeightLastSaveEvent,
	HeightLastSaveEvent.Name: HeightLastSaveEvent,
}

// Envelope is the wire shape {event_name, type, timestamp, <payload key>}.
type Envelope struct {
	EventName string
	Type      string
	Timestamp time.Time
	Payload   json.RawMessage
	key       string
}

// NewEnvelope wraps payload as an event of type et stamped now.
func NewEnvelope(et EventType, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", et.Name, err)
	}
	return Envelope{EventName: et.Name, Type: et.Type, Timestamp: time.Now().UTC(), Payload: raw, key: et.PayloadKey}, nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"event_name": e.EventName,
		"type":       e.Type,
		"timestamp":  e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		e.key:        e.Payload,
	})
}

// ParseEnvelope decodes body as an event of type et. A body that is not an
// object or lacks the payload key is rejected as a whole.
func ParseEnvelope(et EventType, body []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return Envelope{}, apperr.Validation("Invalid event!", fmt.Sprintf("%s must be a JSON object.", et.Name))
	}
	payload, ok := fields[et.PayloadKey]
	if !ok || len(bytes.TrimSpace(payload)) == 0 || string(bytes.TrimSpace(payload)) == "null" {
		return Envelope{}, apperr.Validation("Invalid event!",
			fmt.Sprintf("%s validation: %s required!", et.Name, et.PayloadKey))
	}
	env := Envelope{Payload: payload, key: et.PayloadKey}
	_ = json.Unmarshal(fields["event_name"], &env.EventName)
	_ = json.Unmarshal(fields["type"], &env.Type)
	var ts string
	if err := json.Unmarshal(fields["timestamp"], &ts); err == nil {
		env.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return env, nil
}

// Items returns the payload elements: the array items, or the payload
// itself when it is a single object.
func (e Envelope) Items() ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(e.Payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, apperr.Validation("Invalid event!", err.Error())
		}
		return items, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, apperr.Validation("Invalid event!", fmt.Sprintf("%s must be an object or a list.", e.key))
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}

// ReviveEvent is the outbox.Reviver of this service: only the derived
// last-save events are republished.
func ReviveEvent(eventName string, envelope json.RawMessage) (json.RawMessage, error) {
	et, ok := resurrectable[eventName]
	if !ok {
		return nil, outbox.ErrUnsupported
	}
	env, err := ParseEnvelope(et, envelope)
	if err != nil {
		return nil, err
	}
	if env.EventName != et.Name {
		return nil, fmt.Errorf("outbox event %s carries event_name %q", et.Name, env.EventName)
	}
	return envelope, nil
}
