// Package outbox stores derived events whose publication failed and
// republishes them from a periodic task.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RoutingKeyField  = "__routing_key"
	OperationField   = "__operation"
	OperationPublish = "publish"
)

// ErrUnsupported marks a stored event the task does not know how to revive.
var ErrUnsupported = errors.New("outbox event not supported")

// Record is one pending event. Event holds the full serialized envelope plus
// the routing key and operation it was meant for.
type Record struct {
	ID        uuid.UUID       `json:"id"`
	EventName string          `json:"event_name"`
	Timestamp time.Time       `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewRecord builds the row for envelope, which must be a JSON object.
func NewRecord(eventName string, timestamp time.Time, envelope json.RawMessage, routingKey string) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(envelope, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("outbox event %s is not an object", eventName)
	}
	fields[RoutingKeyField], _ = json.Marshal(routingKey)
	fields[OperationField], _ = json.Marshal(OperationPublish)
	event, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode outbox event: %w", err)
	}
	return &Record{ID: uuid.New(), EventName: eventName, Timestamp: timestamp.UTC(), Event: event}, nil
}

// Target splits a stored event into its routing key, operation and the
// envelope as originally serialized.
func (r Record) Target() (routingKey, operation string, envelope json.RawMessage, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Event, &fields); err != nil || fields == nil {
		return "", "", nil, fmt.Errorf("outbox record %s: malformed event", r.ID)
	}
	if raw, ok := fields[RoutingKeyField]; ok {
		_ = json.Unmarshal(raw, &routingKey)
	}
	if raw, ok := fields[OperationField]; ok {
		_ = json.Unmarshal(raw, &operation)
	}
	delete(fields, RoutingKeyField)
	delete(fields, OperationField)
	envelope, err = json.Marshal(fields)
	return routingKey, operation, envelope, err
}
