package models

import "time"

// Tier is a discrete crowd-density classification.
type Tier string

const (
	TierLow      Tier = "Low"
	TierMedium   Tier = "Medium"
	TierHigh     Tier = "High"
	TierVeryHigh Tier = "VeryHigh"
)

// DensitySample is one occupancy reading for a zone, in percent of capacity.
type DensitySample struct {
	ZoneID    string    `json:"zone_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// DensityEstimate is the live smoothed classification of a zone.
type DensityEstimate struct {
	ZoneID        string    `json:"zone_id"`
	RawValue      float64   `json:"raw_value"`
	SmoothedValue float64   `json:"smoothed_value"`
	Tier          Tier      `json:"tier"`
	Timestamp     time.Time `json:"timestamp"`
}

// TrendDirection summarises the rolling window.
type TrendDirection string

const (
	TrendRising  TrendDirection = "Rising"
	TrendFalling TrendDirection = "Falling"
	TrendSteady  TrendDirection = "Steady"
)

// DensityTrend is the recent history of a zone's estimate, oldest first.
type DensityTrend struct {
	ZoneID    string            `json:"zone_id"`
	Direction TrendDirection    `json:"direction"`
	Window    []DensityEstimate `json:"window"`
}
