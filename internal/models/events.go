package models

import "time"

// EventType names an outbound event kind.
type EventType string

const (
	EventTransition     EventType = "transition"
	EventAlert          EventType = "alert"
	EventDensityChanged EventType = "density_changed"
)

// Event is anything the engine emits to notification sinks.
type Event interface {
	EventType() EventType
	// EventKey is the entity the event belongs to (subject or zone id).
	EventKey() string
	OccurredAt() time.Time
}

// TransitionEvent is a confirmed zone crossing.
type TransitionEvent struct {
	SubjectID string    `json:"subject_id"`
	FromZone  string    `json:"from_zone"`
	ToZone    string    `json:"to_zone"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TransitionEvent) EventType() EventType  { return EventTransition }
func (e TransitionEvent) EventKey() string      { return e.SubjectID }
func (e TransitionEvent) OccurredAt() time.Time { return e.Timestamp }

// AlertEvent reports an alert creation or state change.
type AlertEvent struct {
	AlertID   string     `json:"alert_id"`
	SubjectID string     `json:"subject_id"`
	ZoneID    string     `json:"zone_id"`
	Severity  Severity   `json:"severity"`
	State     AlertState `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e AlertEvent) EventType() EventType  { return EventAlert }
func (e AlertEvent) EventKey() string      { return e.SubjectID }
func (e AlertEvent) OccurredAt() time.Time { return e.Timestamp }

// NewAlertEvent builds the event for the alert's current state.
func NewAlertEvent(a *Alert, at time.Time) AlertEvent {
	return AlertEvent{
		AlertID:   a.ID,
		SubjectID: a.SubjectID,
		ZoneID:    a.ZoneID,
		Severity:  a.Severity,
		State:     a.State,
		Reason:    a.ResolutionReason,
		Timestamp: at,
	}
}

// DensityChangedEvent reports a tier change for a zone.
type DensityChangedEvent struct {
	ZoneID       string    `json:"zone_id"`
	PreviousTier Tier      `json:"previous_tier"`
	Tier         Tier      `json:"tier"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e DensityChangedEvent) EventType() EventType  { return EventDensityChanged }
func (e DensityChangedEvent) EventKey() string      { return e.ZoneID }
func (e DensityChangedEvent) OccurredAt() time.Time { return e.Timestamp }
