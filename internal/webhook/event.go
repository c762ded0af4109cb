// Package webhook receives provider webhook notifications and keeps a bounded
// log of the most recent events.
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxEvents = 100

	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is one received notification. Data is the raw request body.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Status    string          `json:"status"`
}

// EventLog keeps the newest events; once full the oldest is evicted.
type EventLog interface {
	Append(ctx context.Context, e Event) error
	// List returns up to limit events, newest first. limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]Event, error)
	// Latest returns nil when the log is empty.
	Latest(ctx context.Context) (*Event, error)
}

// NewEvent stamps body with a fresh ID. The event type is the body's "type"
// field, or "unknown".
func NewEvent(body []byte, now time.Time) Event {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &head)
	if head.Type == "" {
		head.Type = "unknown"
	}
	return Event{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		EventType: head.Type,
		Data:      json.RawMessage(body),
		Status:    StatusSuccess,
	}
}

// NewErrorEvent records a notification that could not be read.
func NewErrorEvent(cause error, now time.Time) Event {
	data, _ := json.Marshal(map[string]string{"error": cause.Error()})
	return Event{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		EventType: "error",
		Data:      data,
		Status:    StatusError,
	}
}
