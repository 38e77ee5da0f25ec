// Package notify delivers engine events to external sinks without blocking
// the engine.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/models"
)

// Sink receives engine events. Implementations must be safe for use by the
// dispatcher goroutine; a failed delivery is logged and skipped.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt models.Event) error
}

// Envelope is the wire form of an event.
type Envelope struct {
	Type       models.EventType `json:"type"`
	Key        string           `json:"key"`
	OccurredAt time.Time        `json:"occurred_at"`
	Data       models.Event     `json:"data"`
}

// Encode wraps evt in an Envelope and marshals it.
func Encode(evt models.Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:       evt.EventType(),
		Key:        evt.EventKey(),
		OccurredAt: evt.OccurredAt(),
		Data:       evt,
	})
}
