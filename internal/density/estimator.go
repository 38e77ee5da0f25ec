// Package density smooths per-zone crowd occupancy samples and classifies them
// into tiers.
package density

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"go.uber.org/zap"
)

// DefaultThresholds are the Medium, High and VeryHigh lower bounds.
var DefaultThresholds = Thresholds{40, 60, 80}

// DefaultWindow is the number of estimates kept for trend queries.
const DefaultWindow = 10

// trendEpsilon is the change in smoothed value, in percentage points, below
// which a window counts as steady.
const trendEpsilon = 1.0

// Thresholds are the lower bounds of the Medium, High and VeryHigh tiers.
type Thresholds [3]float64

// Validate checks the bounds are strictly increasing inside (0, 100).
func (t Thresholds) Validate() error {
	prev := 0.0
	for i, v := range t {
		if math.IsNaN(v) || v <= prev || v >= 100 {
			return fmt.Errorf("%w: tier threshold %d (%v) must be in (%v, 100)", models.ErrValidation, i, v, prev)
		}
		prev = v
	}
	return nil
}

// Tier classifies a smoothed value.
func (t Thresholds) Tier(v float64) models.Tier {
	switch {
	case v < t[0]:
		return models.TierLow
	case v < t[1]:
		return models.TierMedium
	case v < t[2]:
		return models.TierHigh
	default:
		return models.TierVeryHigh
	}
}

// Config holds estimator tuning.
type Config struct {
	Alpha      float64
	Thresholds Thresholds
	Window     int
}

// Validate checks alpha and thresholds.
func (c Config) Validate() error {
	if math.IsNaN(c.Alpha) || c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: density alpha %v must be in (0, 1]", models.ErrValidation, c.Alpha)
	}
	if c.Window < 1 {
		return fmt.Errorf("%w: trend window %d must be positive", models.ErrValidation, c.Window)
	}
	return c.Thresholds.Validate()
}

type zoneState struct {
	mu      sync.Mutex
	current models.DensityEstimate
	seeded  bool
	// ring of recent estimates, oldest at head
	window []models.DensityEstimate
	head   int
	filled int
}

func (z *zoneState) push(e models.DensityEstimate) {
	idx := (z.head + z.filled) % len(z.window)
	if z.filled < len(z.window) {
		z.filled++
	} else {
		z.head = (z.head + 1) % len(z.window)
	}
	z.window[idx] = e
}

func (z *zoneState) history() []models.DensityEstimate {
	out := make([]models.DensityEstimate, z.filled)
	for i := 0; i < z.filled; i++ {
		out[i] = z.window[(z.head+i)%len(z.window)]
	}
	return out
}

// Estimator keeps one live estimate per zone.
type Estimator struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	zones map[string]*zoneState
}

// NewEstimator validates cfg and returns an estimator.
func NewEstimator(cfg Config, logger *zap.Logger) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{
		cfg:    cfg,
		logger: logger,
		zones:  make(map[string]*zoneState),
	}, nil
}

// Update folds a sample into the zone's estimate. It returns an event only when
// the tier changes; the first sample for a zone seeds the estimate silently.
func (e *Estimator) Update(sample models.DensitySample) (*models.DensityChangedEvent, error) {
	if sample.ZoneID == "" {
		return nil, fmt.Errorf("%w: zone id is required", models.ErrValidation)
	}
	if math.IsNaN(sample.Value) || sample.Value < 0 || sample.Value > 100 {
		return nil, fmt.Errorf("%w: density value %v outside [0, 100]", models.ErrValidation, sample.Value)
	}

	z := e.getOrCreate(sample.ZoneID)
	z.mu.Lock()
	defer z.mu.Unlock()

	smoothed := sample.Value
	if z.seeded {
		s := z.current.SmoothedValue
		smoothed = clamp(s+e.cfg.Alpha*(sample.Value-s), 0, 100)
	}
	prev := z.current.Tier
	next := models.DensityEstimate{
		ZoneID:        sample.ZoneID,
		RawValue:      sample.Value,
		SmoothedValue: smoothed,
		Tier:          e.cfg.Thresholds.Tier(smoothed),
		Timestamp:     sample.Timestamp,
	}
	wasSeeded := z.seeded
	z.current = next
	z.seeded = true
	z.push(next)

	if !wasSeeded || prev == next.Tier {
		return nil, nil
	}

	e.logger.Info("Density tier changed",
		zap.String("zone_id", sample.ZoneID),
		zap.String("previous_tier", string(prev)),
		zap.String("tier", string(next.Tier)),
		zap.Float64("value", smoothed),
	)
	return &models.DensityChangedEvent{
		ZoneID:       sample.ZoneID,
		PreviousTier: prev,
		Tier:         next.Tier,
		Value:        smoothed,
		Timestamp:    sample.Timestamp,
	}, nil
}

// Estimate returns the live estimate for a zone.
func (e *Estimator) Estimate(zoneID string) (models.DensityEstimate, bool) {
	e.mu.RLock()
	z, ok := e.zones[zoneID]
	e.mu.RUnlock()
	if !ok {
		return models.DensityEstimate{}, false
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.current, z.seeded
}

// Estimates returns every live estimate ordered by zone id.
func (e *Estimator) Estimates() []models.DensityEstimate {
	e.mu.RLock()
	ids := make([]string, 0, len(e.zones))
	for id := range e.zones {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	out := make([]models.DensityEstimate, 0, len(ids))
	for _, id := range ids {
		if est, ok := e.Estimate(id); ok {
			out = append(out, est)
		}
	}
	return out
}

// Trend returns the rolling window for a zone and its direction.
func (e *Estimator) Trend(zoneID string) (models.DensityTrend, bool) {
	e.mu.RLock()
	z, ok := e.zones[zoneID]
	e.mu.RUnlock()
	if !ok {
		return models.DensityTrend{}, false
	}

	z.mu.Lock()
	window := z.history()
	z.mu.Unlock()

	dir := models.TrendSteady
	if n := len(window); n > 1 {
		delta := window[n-1].SmoothedValue - window[0].SmoothedValue
		switch {
		case delta > trendEpsilon:
			dir = models.TrendRising
		case delta < -trendEpsilon:
			dir = models.TrendFalling
		}
	}
	return models.DensityTrend{ZoneID: zoneID, Direction: dir, Window: window}, true
}

// Forget drops all state for a zone, e.g. when it leaves the catalog.
func (e *Estimator) Forget(zoneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.zones[zoneID]
	delete(e.zones, zoneID)
	return ok
}

func (e *Estimator) getOrCreate(zoneID string) *zoneState {
	e.mu.RLock()
	z, ok := e.zones[zoneID]
	e.mu.RUnlock()
	if ok {
		return z
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if z, ok = e.zones[zoneID]; ok {
		return z
	}
	z = &zoneState{window: make([]models.DensityEstimate, e.cfg.Window)}
	e.zones[zoneID] = z
	return z
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
