package engine

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/alerting"
	"github.com/krishan2005op/safe-track-go/internal/catalog"
	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/density"
	"github.com/krishan2005op/safe-track-go/internal/metrics"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

var (
	trail = models.Point{X: 50, Y: 50}
	cliff = models.Point{X: 30, Y: 25}
	camp  = models.Point{X: 50, Y: 75}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingPublisher) Publish(evt models.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return true
}

func (r *recordingPublisher) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	engine  *Engine
	clock   *clock.Manual
	pub     *recordingPublisher
	metrics *metrics.Metrics
}

func defaultConfig() Config {
	return Config{
		DwellThreshold:      8 * time.Second,
		AlertCooldown:       60 * time.Second,
		StaleSubjectTimeout: 30 * time.Second,
		AlertRetention:      time.Hour,
		Density: density.Config{
			Alpha:      0.5,
			Thresholds: density.DefaultThresholds,
			Window:     density.DefaultWindow,
		},
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	e, err := New(cfg, clk, pub, m, zap.NewNop())
	require.NoError(t, err)
	_, err = e.LoadZones(catalog.DemoZones())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return &fixture{engine: e, clock: clk, pub: pub, metrics: m}
}

// walk submits one sample per 4s starting at sec, keeping the clock in step.
func (f *fixture) walk(t *testing.T, subject string, p models.Point, sec, samples int) int {
	t.Helper()
	for i := 0; i < samples; i++ {
		f.clock.Set(at(sec))
		_, err := f.engine.SubmitPosition(subject, p.X, p.Y, at(sec))
		require.NoError(t, err)
		sec += 4
	}
	return sec
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.StaleSubjectTimeout = 0
	_, err := New(cfg, clock.Real{}, nil, nil, zap.NewNop())
	assert.True(t, errors.Is(err, models.ErrValidation))

	cfg = defaultConfig()
	cfg.Density.Alpha = 2
	_, err = New(cfg, clock.Real{}, nil, nil, zap.NewNop())
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestEngine_SafeZoneNeverAlerts(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.walk(t, "hiker-1", camp, 0, 10)

	transitions := f.pub.ofType(models.EventTransition)
	require.Len(t, transitions, 1)
	assert.Equal(t, "base-camp", transitions[0].(models.TransitionEvent).ToZone)
	assert.Empty(t, f.pub.ofType(models.EventAlert))
	assert.Equal(t, 0, f.engine.ActiveAlertCount())
	assert.Equal(t, 10.0, testutil.ToFloat64(f.metrics.PositionsProcessed))
}

func TestEngine_TrailToCliffWithCooldown(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	sec := f.walk(t, "hiker-1", trail, 0, 3)
	s, err := e.Subject("hiker-1")
	require.NoError(t, err)
	assert.Equal(t, "trail-path", s.CurrentZoneID)
	assert.Empty(t, f.pub.ofType(models.EventAlert))

	sec = f.walk(t, "hiker-1", cliff, sec, 3)
	alerts := e.Alerts(alerting.Filter{ActiveOnly: true})
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, "cliff-edge", alert.ZoneID)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, models.AlertOpen, alert.State)

	_, err = e.Dispatch(alert.ID)
	require.NoError(t, err)
	_, err = e.Respond(alert.ID)
	require.NoError(t, err)
	resolved, err := e.Resolve(alert.ID, "escorted back")
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.State)

	states := []models.AlertState{}
	for _, evt := range f.pub.ofType(models.EventAlert) {
		states = append(states, evt.(models.AlertEvent).State)
	}
	assert.Equal(t, []models.AlertState{
		models.AlertOpen, models.AlertDispatched, models.AlertResponding, models.AlertResolved,
	}, states)

	// back to the trail and into the cliff again inside the cooldown
	sec = f.walk(t, "hiker-1", trail, sec, 3)
	sec = f.walk(t, "hiker-1", cliff, sec, 3)
	assert.Equal(t, 0, e.ActiveAlertCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsSuppressed.WithLabelValues("cooldown")))

	// after the cooldown a new alert opens
	sec = f.walk(t, "hiker-1", trail, sec+60, 3)
	f.walk(t, "hiker-1", cliff, sec, 3)
	active := e.Alerts(alerting.Filter{ActiveOnly: true})
	require.Len(t, active, 1)
	assert.NotEqual(t, alert.ID, active[0].ID)
}

func TestEngine_CooldownWithSkewedDeviceClock(t *testing.T) {
	for _, tc := range []struct {
		name string
		skew time.Duration
	}{
		{"device ahead", 5 * time.Minute},
		{"device behind", -5 * time.Minute},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			e := f.engine
			walk := func(p models.Point, sec, samples int) int {
				for i := 0; i < samples; i++ {
					f.clock.Set(at(sec))
					_, err := e.SubmitPosition("hiker-1", p.X, p.Y, at(sec).Add(tc.skew))
					require.NoError(t, err)
					sec += 4
				}
				return sec
			}

			sec := walk(cliff, 0, 3)
			alerts := e.Alerts(alerting.Filter{ActiveOnly: true})
			require.Len(t, alerts, 1)
			_, err := e.Resolve(alerts[0].ID, "escorted back")
			require.NoError(t, err)

			// re-entry confirmed 24s after the resolution
			sec = walk(trail, sec, 3)
			sec = walk(cliff, sec, 3)
			assert.Equal(t, 0, e.ActiveAlertCount())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsSuppressed.WithLabelValues("cooldown")))

			// re-entry confirmed 80s after the resolution
			walk(trail, sec, 3)
			walk(cliff, 80, 3)
			assert.Equal(t, 1, e.ActiveAlertCount())
			assert.Len(t, e.Alerts(alerting.Filter{}), 2)
		})
	}
}

func TestEngine_SubmitPosition_Validation(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	for _, tc := range []struct {
		id   string
		x, y float64
		ts   time.Time
	}{
		{"", 1, 1, t0},
		{"s", math.NaN(), 1, t0},
		{"s", 1, math.Inf(1), t0},
		{"s", 1, 1, time.Time{}},
	} {
		_, err := e.SubmitPosition(tc.id, tc.x, tc.y, tc.ts)
		assert.True(t, errors.Is(err, models.ErrValidation))
	}
	assert.Empty(t, e.Subjects())

	_, err := e.SubmitPosition("s", 1, 1, at(10))
	require.NoError(t, err)
	_, err = e.SubmitPosition("s", 1, 1, at(5))
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.SamplesRejected.WithLabelValues("position")))
}

func TestEngine_SubmitPosition_Result(t *testing.T) {
	f := newFixture(t, defaultConfig())
	var last *PositionResult
	for i := 0; i < 3; i++ {
		res, err := f.engine.SubmitPosition("s1", cliff.X, cliff.Y, at(i*4))
		require.NoError(t, err)
		assert.Equal(t, "cliff-edge", res.ZoneID)
		last = res
	}
	require.NotNil(t, last.Transition)
	require.NotNil(t, last.Alert)
	assert.Equal(t, models.SeverityHigh, last.Alert.Severity)
}

func TestEngine_TickEvictsStaleSubjects(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	f.walk(t, "hiker-1", cliff, 0, 3)  // alert opens at 8s
	f.walk(t, "hiker-2", trail, 20, 3) // last sample at 28s
	require.Equal(t, 1, e.ActiveAlertCount())

	res := e.Tick(at(8 + 30))
	assert.Empty(t, res.Evicted)

	f.clock.Set(at(40))
	res = e.Tick(at(40))
	assert.Equal(t, []string{"hiker-1"}, res.Evicted)
	assert.Equal(t, 1, res.AlertsResolved)
	assert.Equal(t, 0, e.ActiveAlertCount())

	_, err := e.Subject("hiker-1")
	assert.True(t, errors.Is(err, models.ErrUnknownSubject))

	events := f.pub.ofType(models.EventAlert)
	last := events[len(events)-1].(models.AlertEvent)
	assert.Equal(t, models.AlertResolved, last.State)
	assert.Equal(t, models.ReasonSubjectLost, last.Reason)
}

func TestEngine_LoadZonesRetiresAlertsAndDensity(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	f.walk(t, "hiker-1", cliff, 0, 3)
	_, err := e.SubmitDensitySample("gardens", 30, at(1))
	require.NoError(t, err)

	var kept []models.Zone
	for _, z := range catalog.DemoZones() {
		if z.ID != "cliff-edge" && z.ID != "gardens" {
			kept = append(kept, z)
		}
	}
	res, err := e.LoadZones(kept)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cliff-edge", "gardens"}, res.Removed)
	assert.Equal(t, 1, res.AlertsResolved)
	assert.Equal(t, uint64(2), res.Version)

	all := e.Alerts(alerting.Filter{})
	require.Len(t, all, 1)
	assert.Equal(t, models.ReasonZoneRemoved, all[0].ResolutionReason)

	_, err = e.DensityEstimate("gardens")
	assert.True(t, errors.Is(err, models.ErrUnknownZone))
	assert.Equal(t, models.Unzoned, e.ResolvePoint(cliff))
}

func TestEngine_ReloadRacingAlertCreation(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	var kept []models.Zone
	for _, z := range catalog.DemoZones() {
		if z.ID != "cliff-edge" {
			kept = append(kept, z)
		}
	}
	// the reload lands after the sample resolved to the cliff but before the
	// alert exists, so LoadZones finds nothing to retire
	var once sync.Once
	e.beforeAlert = func() {
		once.Do(func() {
			res, err := e.LoadZones(kept)
			require.NoError(t, err)
			assert.Equal(t, 0, res.AlertsResolved)
		})
	}

	f.walk(t, "hiker-1", cliff, 0, 3)

	assert.Equal(t, 0, e.ActiveAlertCount())
	all := e.Alerts(alerting.Filter{})
	require.Len(t, all, 1)
	assert.Equal(t, models.AlertResolved, all[0].State)
	assert.Equal(t, models.ReasonZoneRemoved, all[0].ResolutionReason)

	var states []models.AlertState
	for _, evt := range f.pub.ofType(models.EventAlert) {
		states = append(states, evt.(models.AlertEvent).State)
	}
	assert.Equal(t, []models.AlertState{models.AlertOpen, models.AlertResolved}, states)
}

func TestEngine_LoadZonesRejectedKeepsCatalog(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	bad := catalog.DemoZones()
	bad[0].Geometry.Rect = &models.Rect{X: 0, Y: 0, Width: 0, Height: 5}
	_, err := e.LoadZones(bad)
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.Equal(t, uint64(1), e.ZoneVersion())
	assert.Equal(t, "trail-path", e.ResolvePoint(trail))
}

func TestEngine_DensityScenario(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	for i, v := range []float64{50, 55, 90, 92} {
		_, err := e.SubmitDensitySample("courtyard", v, at(i*3))
		require.NoError(t, err)
	}
	events := f.pub.ofType(models.EventDensityChanged)
	require.Len(t, events, 2)
	assert.Equal(t, models.TierHigh, events[0].(models.DensityChangedEvent).Tier)
	assert.Equal(t, models.TierVeryHigh, events[1].(models.DensityChangedEvent).Tier)

	est, err := e.DensityEstimate("courtyard")
	require.NoError(t, err)
	assert.InDelta(t, 81.625, est.SmoothedValue, 1e-9)

	trend, err := e.DensityTrend("courtyard")
	require.NoError(t, err)
	assert.Equal(t, models.TrendRising, trend.Direction)
}

func TestEngine_SubmitDensitySample_Errors(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	_, err := e.SubmitDensitySample("atlantis", 10, t0)
	assert.True(t, errors.Is(err, models.ErrUnknownZone))
	_, err = e.SubmitDensitySample("courtyard", 101, t0)
	assert.True(t, errors.Is(err, models.ErrValidation))
	_, err = e.SubmitDensitySample("courtyard", math.NaN(), t0)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestEngine_TransitionAlertErrors(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	_, err := e.Dispatch("missing")
	assert.True(t, errors.Is(err, models.ErrUnknownAlert))

	f.walk(t, "hiker-1", cliff, 0, 3)
	a := e.Alerts(alerting.Filter{})[0]
	_, err = e.TransitionAlert(a.ID, models.AlertDispatched, "", a.Version+1)
	assert.True(t, errors.Is(err, models.ErrConflict))

	_, err = e.Resolve(a.ID, "done")
	require.NoError(t, err)
	_, err = e.Respond(a.ID)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	before := len(f.pub.ofType(models.EventAlert))
	_, err = e.Resolve(a.ID, "again")
	require.NoError(t, err)
	assert.Len(t, f.pub.ofType(models.EventAlert), before)
}

func TestEngine_Summary(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	f.walk(t, "hiker-1", cliff, 0, 3)
	f.walk(t, "hiker-2", camp, 0, 3)
	_, err := e.SubmitPosition("hiker-3", 1, 1, at(0))
	require.NoError(t, err)
	_, err = e.SubmitDensitySample("parking", 70, at(0))
	require.NoError(t, err)

	s := e.Summary()
	assert.Equal(t, 3, s.TrackedSubjects)
	assert.Equal(t, 1, s.UnzonedSubjects)
	assert.Equal(t, 1, s.ActiveAlerts)
	assert.Equal(t, 1, s.AlertsBySeverity[models.SeverityHigh])
	require.Len(t, s.Zones, 10)

	byID := make(map[string]ZoneStatus)
	for _, z := range s.Zones {
		byID[z.ZoneID] = z
	}
	assert.Equal(t, 1, byID["cliff-edge"].Occupants)
	assert.Equal(t, 1, byID["cliff-edge"].ActiveAlerts)
	assert.Equal(t, models.TierHigh, byID["parking"].DensityTier)
	require.NotNil(t, byID["parking"].DensityValue)
	assert.Nil(t, byID["gardens"].DensityValue)
}

func TestEngine_Closed(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.NoError(t, f.engine.Close())
	require.NoError(t, f.engine.Close())

	_, err := f.engine.SubmitPosition("s", 1, 1, t0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.engine.SubmitDensitySample("courtyard", 1, t0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.engine.LoadZones(nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Len(t, f.engine.Zones(), 10)
}

func TestEngine_ConcurrentSubjects(t *testing.T) {
	f := newFixture(t, defaultConfig())
	e := f.engine

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			for s := 0; s < 10; s++ {
				_, err := e.SubmitPosition(id, cliff.X, cliff.Y, at(s*4))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, e.ActiveAlertCount())
	assert.Len(t, e.Subjects(), 16)
}
