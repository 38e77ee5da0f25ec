// Package simulation generates synthetic position and crowd-density traffic
// for demos. All randomness comes from the injected *rand.Rand.
package simulation

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Random-walk bounds for subjects, in percent-of-map coordinates.
const (
	walkMin   = 10.0
	walkMax   = 90.0
	walkStepX = 8.0 // uniform in [-4, 4]
	walkStepY = 6.0 // uniform in [-3, 3]
)

// StartX and StartY are where every simulated subject begins.
const (
	StartX = 45.0
	StartY = 60.0
)

// PositionSample is one generated subject position.
type PositionSample struct {
	SubjectID string
	X, Y      float64
	Timestamp time.Time
}

// DensitySample is one generated occupancy reading.
type DensitySample struct {
	ZoneID    string
	Value     float64
	Timestamp time.Time
}

// CrowdProfile drives the random walk of one zone's occupancy.
type CrowdProfile struct {
	ZoneID  string
	Initial float64
	Min     float64
	Max     float64
	Step    float64 // full width of the uniform step
}

// DefaultCrowdProfiles match the heritage demo zones.
func DefaultCrowdProfiles() []CrowdProfile {
	return []CrowdProfile{
		{ZoneID: "entrance", Initial: 65, Min: 20, Max: 100, Step: 10},
		{ZoneID: "courtyard", Initial: 85, Min: 20, Max: 100, Step: 8},
		{ZoneID: "exhibition", Initial: 45, Min: 10, Max: 90, Step: 12},
		{ZoneID: "gardens", Initial: 30, Min: 10, Max: 80, Step: 15},
		{ZoneID: "parking", Initial: 70, Min: 30, Max: 100, Step: 6},
	}
}

type walker struct {
	id   string
	x, y float64
}

// Simulator is not safe for concurrent use; one goroutine drives it.
type Simulator struct {
	rng     *rand.Rand
	walkers []*walker
	crowds  []CrowdProfile
	values  []float64
}

// New creates a simulator with n subjects named sim-1..sim-n.
func New(rng *rand.Rand, subjects int, crowds []CrowdProfile) *Simulator {
	s := &Simulator{rng: rng, crowds: crowds, values: make([]float64, len(crowds))}
	for i := 1; i <= subjects; i++ {
		s.walkers = append(s.walkers, &walker{id: fmt.Sprintf("sim-%d", i), x: StartX, y: StartY})
	}
	for i, c := range crowds {
		s.values[i] = c.Initial
	}
	return s
}

// StepPositions moves every subject one step and returns the new positions.
func (s *Simulator) StepPositions(now time.Time) []PositionSample {
	out := make([]PositionSample, 0, len(s.walkers))
	for _, w := range s.walkers {
		w.x = clamp(w.x+(s.rng.Float64()-0.5)*walkStepX, walkMin, walkMax)
		w.y = clamp(w.y+(s.rng.Float64()-0.5)*walkStepY, walkMin, walkMax)
		out = append(out, PositionSample{SubjectID: w.id, X: w.x, Y: w.y, Timestamp: now})
	}
	return out
}

// StepDensity moves every crowd zone one step and returns the readings.
func (s *Simulator) StepDensity(now time.Time) []DensitySample {
	out := make([]DensitySample, 0, len(s.crowds))
	for i, c := range s.crowds {
		s.values[i] = clamp(s.values[i]+(s.rng.Float64()-0.5)*c.Step, c.Min, c.Max)
		out = append(out, DensitySample{ZoneID: c.ZoneID, Value: s.values[i], Timestamp: now})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
