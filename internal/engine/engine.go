// Package engine wires the zone registry, transition detector, alert manager
// and density estimator into one instance that owns all live state.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/alerting"
	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/density"
	"github.com/krishan2005op/safe-track-go/internal/metrics"
	"github.com/krishan2005op/safe-track-go/internal/models"
	"github.com/krishan2005op/safe-track-go/internal/tracker"
	"github.com/krishan2005op/safe-track-go/internal/zone"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine closed")

// Publisher receives every event the engine emits. It must not block.
type Publisher interface {
	Publish(evt models.Event) bool
}

// Config holds engine tuning.
type Config struct {
	DwellThreshold      time.Duration
	AlertCooldown       time.Duration
	StaleSubjectTimeout time.Duration
	// resolved alerts are kept at least this long for queries
	AlertRetention time.Duration
	Density        density.Config
}

// Validate checks durations and density settings.
func (c Config) Validate() error {
	if c.DwellThreshold < 0 {
		return fmt.Errorf("%w: dwell threshold must not be negative", models.ErrValidation)
	}
	if c.AlertCooldown < 0 {
		return fmt.Errorf("%w: alert cooldown must not be negative", models.ErrValidation)
	}
	if c.StaleSubjectTimeout <= 0 {
		return fmt.Errorf("%w: stale subject timeout must be positive", models.ErrValidation)
	}
	return c.Density.Validate()
}

// PositionResult reports what a single position sample caused.
type PositionResult struct {
	ZoneID     string                  `json:"zone_id"`
	Transition *models.TransitionEvent `json:"transition,omitempty"`
	Alert      *models.Alert           `json:"alert,omitempty"`
}

// LoadResult summarises a zone catalog swap.
type LoadResult struct {
	Version        uint64   `json:"version"`
	Zones          int      `json:"zones"`
	Removed        []string `json:"removed,omitempty"`
	AlertsResolved int      `json:"alerts_resolved"`
}

// TickResult summarises one maintenance pass.
type TickResult struct {
	Evicted        []string `json:"evicted,omitempty"`
	AlertsResolved int      `json:"alerts_resolved"`
	AlertsPruned   int      `json:"alerts_pruned"`
}

// Engine is one self-contained tracking instance.
type Engine struct {
	cfg     Config
	clock   clock.Clock
	pub     Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger

	registry *zone.Registry
	resolver *zone.Resolver
	detector *tracker.Detector
	alerts   *alerting.Manager
	density  *density.Estimator

	closed atomic.Bool

	// beforeAlert runs between zone resolution and alert creation; tests use it
	// to interleave a catalog reload
	beforeAlert func()
}

// New creates an engine with an empty zone set. pub and m may be nil.
func New(cfg Config, clk clock.Clock, pub Publisher, m *metrics.Metrics, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	est, err := density.NewEstimator(cfg.Density, logger.Named("density"))
	if err != nil {
		return nil, err
	}
	registry := zone.NewRegistry(logger.Named("zones"))
	return &Engine{
		cfg:      cfg,
		clock:    clk,
		pub:      pub,
		metrics:  m,
		logger:   logger,
		registry: registry,
		resolver: zone.NewResolver(registry),
		detector: tracker.NewDetector(cfg.DwellThreshold, logger.Named("tracker")),
		alerts:   alerting.NewManager(cfg.AlertCooldown, clk, logger.Named("alerts")),
		density:  est,
	}, nil
}

// Close rejects further submissions. Queries keep working.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("Engine closed",
		zap.Int("subjects", e.detector.Count()),
		zap.Int("active_alerts", e.alerts.ActiveCount()),
	)
	return nil
}

// SubmitPosition resolves a position sample, feeds it through the dwell filter
// and opens an alert on a confirmed entry into a Medium-or-higher zone.
func (e *Engine) SubmitPosition(subjectID string, x, y float64, ts time.Time) (*PositionResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()

	if subjectID == "" || !finite(x) || !finite(y) || ts.IsZero() {
		e.reject("position")
		return nil, fmt.Errorf("%w: position sample needs subject id, finite coordinates and a timestamp", models.ErrValidation)
	}

	p := models.Point{X: x, Y: y}
	target, inZone := e.resolver.ResolveZone(p)
	zoneID := models.Unzoned
	if inZone {
		zoneID = target.ID
	}

	transition, err := e.detector.Observe(subjectID, p, zoneID, ts)
	if err != nil {
		e.reject("position")
		return nil, err
	}

	result := &PositionResult{ZoneID: zoneID, Transition: transition}
	if e.metrics != nil {
		e.metrics.PositionsProcessed.Inc()
		e.metrics.SubjectsTracked.Set(float64(e.detector.Count()))
	}

	if transition != nil {
		if e.metrics != nil {
			e.metrics.Transitions.Inc()
		}
		e.publish(*transition)

		// a committed transition always targets the zone of this sample
		if inZone {
			if e.beforeAlert != nil {
				e.beforeAlert()
			}
			alert, outcome := e.alerts.OnTransition(*transition, target)
			e.recordOutcome(alert, outcome)
			if alert != nil {
				e.publish(models.NewAlertEvent(alert, alert.CreatedAt))
				result.Alert = e.retireIfZoneGone(alert)
			}
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveSubmit(start)
	}
	return result, nil
}

// SubmitDensitySample folds an occupancy reading into the zone's estimate.
func (e *Engine) SubmitDensitySample(zoneID string, value float64, ts time.Time) (*models.DensityChangedEvent, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if zoneID == "" || !finite(value) || value < 0 || value > 100 || ts.IsZero() {
		e.reject("density")
		return nil, fmt.Errorf("%w: density sample needs zone id, value in [0, 100] and a timestamp", models.ErrValidation)
	}
	if _, ok := e.registry.Snapshot().Lookup(zoneID); !ok {
		e.reject("density")
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownZone, zoneID)
	}

	evt, err := e.density.Update(models.DensitySample{ZoneID: zoneID, Value: value, Timestamp: ts})
	if err != nil {
		e.reject("density")
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.DensitySamples.Inc()
	}
	if evt != nil {
		if e.metrics != nil {
			e.metrics.DensityTierChanges.WithLabelValues(string(evt.Tier)).Inc()
		}
		e.publish(*evt)
	}
	return evt, nil
}

// LoadZones atomically replaces the zone catalog. Zones that disappear or
// become inactive have their open alerts resolved with reason "zone-removed";
// density state of removed zones is dropped.
func (e *Engine) LoadZones(zones []models.Zone) (*LoadResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	next, prev, err := e.registry.Load(zones)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ZoneReloads.WithLabelValues("rejected").Inc()
		}
		e.logger.Warn("Zone catalog rejected", zap.Error(err))
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ZoneReloads.WithLabelValues("ok").Inc()
	}

	result := &LoadResult{Version: next.Version(), Zones: next.Len()}
	for _, old := range prev.Zones() {
		cur, still := next.Lookup(old.ID)
		if !still {
			result.Removed = append(result.Removed, old.ID)
			e.density.Forget(old.ID)
		}
		if old.Active && (!still || !cur.Active) {
			for _, a := range e.alerts.ResolveZone(old.ID, models.ReasonZoneRemoved) {
				a := a
				result.AlertsResolved++
				e.recordStateChange(&a)
			}
		}
	}
	if len(result.Removed) > 0 || result.AlertsResolved > 0 {
		e.logger.Info("Zones retired",
			zap.Strings("removed", result.Removed),
			zap.Int("alerts_resolved", result.AlertsResolved),
		)
	}
	return result, nil
}

// Tick evicts subjects with no sample for the stale timeout, force-resolving
// their open alerts, and prunes old resolved alerts.
func (e *Engine) Tick(now time.Time) TickResult {
	var result TickResult
	for _, s := range e.detector.Sweep(now, e.cfg.StaleSubjectTimeout) {
		result.Evicted = append(result.Evicted, s.ID)
		for _, a := range e.alerts.ResolveSubject(s.ID, models.ReasonSubjectLost) {
			a := a
			result.AlertsResolved++
			e.recordStateChange(&a)
		}
	}
	result.AlertsPruned = e.alerts.Prune(now, e.cfg.AlertRetention)

	if e.metrics != nil {
		e.metrics.SubjectsEvicted.Add(float64(len(result.Evicted)))
		e.metrics.SubjectsTracked.Set(float64(e.detector.Count()))
		e.metrics.ActiveAlerts.Set(float64(e.alerts.ActiveCount()))
	}
	return result
}

// Dispatch moves an alert to Dispatched.
func (e *Engine) Dispatch(alertID string) (*models.Alert, error) {
	return e.TransitionAlert(alertID, models.AlertDispatched, "", 0)
}

// Respond moves an alert to Responding.
func (e *Engine) Respond(alertID string) (*models.Alert, error) {
	return e.TransitionAlert(alertID, models.AlertResponding, "", 0)
}

// Resolve moves an alert to Resolved.
func (e *Engine) Resolve(alertID, reason string) (*models.Alert, error) {
	return e.TransitionAlert(alertID, models.AlertResolved, reason, 0)
}

// TransitionAlert advances an alert, publishing an AlertEvent when it changed.
// expectedVersion > 0 makes the update conditional on the caller's version.
func (e *Engine) TransitionAlert(alertID string, target models.AlertState, reason string, expectedVersion int64) (*models.Alert, error) {
	a, changed, err := e.alerts.Transition(alertID, target, reason, expectedVersion)
	if err != nil {
		return nil, err
	}
	if changed {
		e.recordStateChange(a)
	}
	return a, nil
}

// Alert returns one alert.
func (e *Engine) Alert(alertID string) (*models.Alert, error) {
	return e.alerts.Get(alertID)
}

// Alerts lists alerts matching f.
func (e *Engine) Alerts(f alerting.Filter) []models.Alert {
	return e.alerts.List(f)
}

// ActiveAlertCount is the number of non-resolved alerts.
func (e *Engine) ActiveAlertCount() int {
	return e.alerts.ActiveCount()
}

// Subject returns one tracked subject.
func (e *Engine) Subject(subjectID string) (models.Subject, error) {
	return e.detector.Get(subjectID)
}

// Subjects lists tracked subjects ordered by id.
func (e *Engine) Subjects() []models.Subject {
	return e.detector.List()
}

// Zones returns the current catalog ordered by id.
func (e *Engine) Zones() []models.Zone {
	return e.registry.Snapshot().Zones()
}

// Zone returns one zone from the current catalog.
func (e *Engine) Zone(zoneID string) (models.Zone, error) {
	z, ok := e.registry.Snapshot().Lookup(zoneID)
	if !ok {
		return models.Zone{}, fmt.Errorf("%w: %s", models.ErrUnknownZone, zoneID)
	}
	return z, nil
}

// ResolvePoint reports which zone contains p, or models.Unzoned.
func (e *Engine) ResolvePoint(p models.Point) string {
	return e.resolver.Resolve(p)
}

// ZoneVersion is the load counter of the current catalog.
func (e *Engine) ZoneVersion() uint64 {
	return e.registry.Snapshot().Version()
}

// DensityEstimate returns a zone's live estimate.
func (e *Engine) DensityEstimate(zoneID string) (models.DensityEstimate, error) {
	est, ok := e.density.Estimate(zoneID)
	if !ok {
		return models.DensityEstimate{}, fmt.Errorf("%w: no density samples for %s", models.ErrUnknownZone, zoneID)
	}
	return est, nil
}

// DensityEstimates returns every live estimate ordered by zone id.
func (e *Engine) DensityEstimates() []models.DensityEstimate {
	return e.density.Estimates()
}

// DensityTrend returns a zone's recent history and direction.
func (e *Engine) DensityTrend(zoneID string) (models.DensityTrend, error) {
	tr, ok := e.density.Trend(zoneID)
	if !ok {
		return models.DensityTrend{}, fmt.Errorf("%w: no density samples for %s", models.ErrUnknownZone, zoneID)
	}
	return tr, nil
}

// retireIfZoneGone resolves a fresh alert whose zone was removed or deactivated
// by a reload that raced with the sample. LoadZones swaps the snapshot before
// retiring alerts, so any alert it missed is caught here.
func (e *Engine) retireIfZoneGone(alert *models.Alert) *models.Alert {
	if z, ok := e.registry.Snapshot().Lookup(alert.ZoneID); ok && z.Active {
		return alert
	}
	a, changed, err := e.alerts.Transition(alert.ID, models.AlertResolved, models.ReasonZoneRemoved, 0)
	if err != nil {
		e.logger.Warn("Failed to retire alert for removed zone",
			zap.String("alert_id", alert.ID),
			zap.String("zone_id", alert.ZoneID),
			zap.Error(err),
		)
		return alert
	}
	if changed {
		e.recordStateChange(a)
	}
	return a
}

func (e *Engine) recordOutcome(alert *models.Alert, outcome alerting.Outcome) {
	if e.metrics == nil {
		return
	}
	switch outcome {
	case alerting.OutcomeCreated:
		e.metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
		e.metrics.ActiveAlerts.Set(float64(e.alerts.ActiveCount()))
	case alerting.OutcomeDuplicate, alerting.OutcomeCooldown:
		e.metrics.AlertsSuppressed.WithLabelValues(string(outcome)).Inc()
	}
}

func (e *Engine) recordStateChange(a *models.Alert) {
	if e.metrics != nil {
		e.metrics.AlertStateChanges.WithLabelValues(string(a.State)).Inc()
		e.metrics.ActiveAlerts.Set(float64(e.alerts.ActiveCount()))
	}
	e.publish(models.NewAlertEvent(a, a.UpdatedAt))
}

func (e *Engine) publish(evt models.Event) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(evt)
}

func (e *Engine) reject(kind string) {
	if e.metrics != nil {
		e.metrics.Rejected(kind)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
