package graph

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/lisahq/lisa/stream"
)

// EventEnvelope is the wire form of one turn event on the event subjects.
type EventEnvelope struct {
	// ThreadID identifies the conversation the event belongs to.
	ThreadID string `json:"thread_id"`

	// Seq orders events within a turn.
	Seq uint64 `json:"seq"`

	// Event is the turn event itself.
	Event stream.Event `json:"event"`

	// EmittedAt is when the runtime produced the event.
	EmittedAt time.Time `json:"emitted_at"`
}

// Validate checks the envelope before publishing.
func (e *EventEnvelope) Validate() error {
	if e.ThreadID == "" {
		return errors.New("thread id is required")
	}
	if e.Event.Type == "" {
		return errors.New("event type is required")
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (e *EventEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
