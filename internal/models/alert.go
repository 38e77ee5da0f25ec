package models

import "time"

// AlertState is the lifecycle position of an alert.
type AlertState string

const (
	AlertOpen       AlertState = "Open"
	AlertDispatched AlertState = "Dispatched"
	AlertResponding AlertState = "Responding"
	AlertResolved   AlertState = "Resolved"
)

// Rank orders states along the lifecycle. Unknown states return -1.
func (s AlertState) Rank() int {
	switch s {
	case AlertOpen:
		return 0
	case AlertDispatched:
		return 1
	case AlertResponding:
		return 2
	case AlertResolved:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether no further transition is possible.
func (s AlertState) Terminal() bool {
	return s == AlertResolved
}

// Severity of an alert, mapped from the zone risk level.
type Severity string

const (
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// SeverityForRisk maps risk to severity; ok is false below Medium.
func SeverityForRisk(r RiskLevel) (Severity, bool) {
	switch r {
	case RiskMedium:
		return SeverityMedium, true
	case RiskHigh:
		return SeverityHigh, true
	case RiskCritical:
		return SeverityCritical, true
	default:
		return "", false
	}
}

// Resolution reasons used by the engine itself.
const (
	ReasonSubjectLost = "subject-lost"
	ReasonZoneRemoved = "zone-removed"
)

// Alert is an immutable snapshot of one alert instance. Every change produces a
// new value with Version incremented.
type Alert struct {
	ID               string     `json:"id"`
	SubjectID        string     `json:"subject_id"`
	ZoneID           string     `json:"zone_id"`
	ZoneName         string     `json:"zone_name"`
	Severity         Severity   `json:"severity"`
	State            AlertState `json:"state"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
}

// Active reports whether the alert is not yet resolved.
func (a *Alert) Active() bool {
	return !a.State.Terminal()
}
