package models

import "time"

// Subject is a tracked person or device.
type Subject struct {
	ID             string    `json:"id"`
	Position       Point     `json:"position"`
	CurrentZoneID  string    `json:"current_zone_id"`
	PendingZoneID  string    `json:"pending_zone_id,omitempty"`
	LastSampleAt   time.Time `json:"last_sample_at"`
	FirstSampleAt  time.Time `json:"first_sample_at"`
	SamplesHandled int64     `json:"samples_handled"`
}
