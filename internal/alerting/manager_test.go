package alerting

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	cliffEdge  = models.Zone{ID: "cliff-edge", Name: "Cliff Edge", RiskLevel: models.RiskHigh, Active: true}
	trailPath  = models.Zone{ID: "trail-path", Name: "Trail Path", RiskLevel: models.RiskLow, Active: true}
	weatherBox = models.Zone{ID: "weather-alert", Name: "Weather Alert Zone", RiskLevel: models.RiskCritical, Active: true}
)

func newManager(cooldown time.Duration) (*Manager, *clock.Manual) {
	clk := clock.NewManual(t0)
	m := NewManager(cooldown, clk, zap.NewNop())
	var seq int64
	m.newID = func() string { return fmt.Sprintf("alert-%d", atomic.AddInt64(&seq, 1)) }
	return m, clk
}

func enter(subject string, z models.Zone, ts time.Time) models.TransitionEvent {
	return models.TransitionEvent{SubjectID: subject, FromZone: models.Unzoned, ToZone: z.ID, Timestamp: ts}
}

func TestManager_OnTransition_CreatesForMediumAndAbove(t *testing.T) {
	m, _ := newManager(time.Minute)

	a, outcome := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	require.Equal(t, OutcomeCreated, outcome)
	require.NotNil(t, a)
	assert.Equal(t, models.AlertOpen, a.State)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, "Cliff Edge", a.ZoneName)
	assert.Equal(t, int64(1), a.Version)

	a, outcome = m.OnTransition(enter("s1", weatherBox, t0), weatherBox)
	require.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, models.SeverityCritical, a.Severity)

	a, outcome = m.OnTransition(enter("s1", trailPath, t0), trailPath)
	assert.Nil(t, a)
	assert.Equal(t, OutcomeBelowSeverity, outcome)

	assert.Equal(t, 2, m.ActiveCount())
}

func TestManager_OnTransition_OneActivePerPair(t *testing.T) {
	m, _ := newManager(0)

	_, outcome := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	require.Equal(t, OutcomeCreated, outcome)
	_, outcome = m.OnTransition(enter("s1", cliffEdge, t0.Add(time.Second)), cliffEdge)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// other subject is an independent pair
	_, outcome = m.OnTransition(enter("s2", cliffEdge, t0), cliffEdge)
	assert.Equal(t, OutcomeCreated, outcome)

	assert.Len(t, m.List(Filter{SubjectID: "s1", ZoneID: cliffEdge.ID, ActiveOnly: true}), 1)
}

func TestManager_OnTransition_Cooldown(t *testing.T) {
	m, clk := newManager(30 * time.Second)

	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	clk.Set(t0.Add(10 * time.Second))
	_, changed, err := m.Resolve(a.ID, "cleared")
	require.NoError(t, err)
	require.True(t, changed)

	clk.Set(t0.Add(20 * time.Second))
	_, outcome := m.OnTransition(enter("s1", cliffEdge, t0.Add(20*time.Second)), cliffEdge)
	assert.Equal(t, OutcomeCooldown, outcome)

	clk.Set(t0.Add(40 * time.Second))
	b, outcome := m.OnTransition(enter("s1", cliffEdge, t0.Add(40*time.Second)), cliffEdge)
	require.Equal(t, OutcomeCreated, outcome)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestManager_OnTransition_CooldownIgnoresSampleClockSkew(t *testing.T) {
	for _, tc := range []struct {
		name    string
		skew    time.Duration
		after   time.Duration
		outcome Outcome
	}{
		{"ahead within cooldown", 5 * time.Minute, 30 * time.Second, OutcomeCooldown},
		{"behind within cooldown", -5 * time.Minute, 30 * time.Second, OutcomeCooldown},
		{"ahead past cooldown", 5 * time.Minute, 80 * time.Second, OutcomeCreated},
		{"behind past cooldown", -5 * time.Minute, 80 * time.Second, OutcomeCreated},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, clk := newManager(time.Minute)

			a, outcome := m.OnTransition(enter("s1", cliffEdge, t0.Add(tc.skew)), cliffEdge)
			require.Equal(t, OutcomeCreated, outcome)
			_, changed, err := m.Resolve(a.ID, "cleared")
			require.NoError(t, err)
			require.True(t, changed)

			clk.Advance(tc.after)
			_, outcome = m.OnTransition(enter("s1", cliffEdge, clk.Now().Add(tc.skew)), cliffEdge)
			assert.Equal(t, tc.outcome, outcome)
		})
	}
}

func TestManager_Transition_Lifecycle(t *testing.T) {
	m, clk := newManager(0)
	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)

	clk.Advance(time.Second)
	d, changed, err := m.Dispatch(a.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.AlertDispatched, d.State)
	assert.Equal(t, int64(2), d.Version)

	// already there
	d2, changed, err := m.Dispatch(a.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(2), d2.Version)

	r, changed, err := m.Respond(a.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.AlertResponding, r.State)

	// moving backwards is a no-op
	_, changed, err = m.Dispatch(a.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	clk.Advance(time.Second)
	res, changed, err := m.Resolve(a.ID, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.AlertResolved, res.State)
	assert.Equal(t, DefaultReason, res.ResolutionReason)
	require.NotNil(t, res.ResolvedAt)
	assert.Equal(t, t0.Add(2*time.Second), *res.ResolvedAt)

	_, changed, err = m.Resolve(a.ID, "again")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = m.Dispatch(a.ID)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
	_, _, err = m.Respond(a.ID)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultReason, got.ResolutionReason)
}

func TestManager_Transition_SkipsStates(t *testing.T) {
	m, _ := newManager(0)
	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)

	r, changed, err := m.Respond(a.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.AlertResponding, r.State)
}

func TestManager_Transition_UnknownAndInvalidTarget(t *testing.T) {
	m, _ := newManager(0)
	_, _, err := m.Dispatch("missing")
	assert.True(t, errors.Is(err, models.ErrUnknownAlert))

	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	_, _, err = m.Transition(a.ID, models.AlertOpen, "", 0)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestManager_Transition_ExpectedVersion(t *testing.T) {
	m, _ := newManager(0)
	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)

	_, _, err := m.Transition(a.ID, models.AlertDispatched, "", 5)
	assert.True(t, errors.Is(err, models.ErrConflict))

	d, changed, err := m.Transition(a.ID, models.AlertDispatched, "", 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(2), d.Version)
}

func TestManager_Transition_LostRaceIsConflict(t *testing.T) {
	m, _ := newManager(0)
	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)

	var fired atomic.Bool
	m.beforeCommit = func(id string) {
		if fired.CompareAndSwap(false, true) {
			_, _, err := m.Respond(id)
			require.NoError(t, err)
		}
	}

	_, _, err := m.Dispatch(a.ID)
	assert.True(t, errors.Is(err, models.ErrConflict))

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertResponding, got.State)
	assert.Equal(t, int64(2), got.Version)
}

func TestManager_ResolveSubject_RetriesConflict(t *testing.T) {
	m, _ := newManager(0)
	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	b, _ := m.OnTransition(enter("s1", weatherBox, t0), weatherBox)
	m.OnTransition(enter("s2", cliffEdge, t0), cliffEdge)

	var fired atomic.Bool
	m.beforeCommit = func(id string) {
		if id == a.ID && fired.CompareAndSwap(false, true) {
			_, _, err := m.Dispatch(id)
			require.NoError(t, err)
		}
	}

	resolved := m.ResolveSubject("s1", models.ReasonSubjectLost)
	require.Len(t, resolved, 2)
	ids := []string{resolved[0].ID, resolved[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	for _, r := range resolved {
		assert.Equal(t, models.ReasonSubjectLost, r.ResolutionReason)
	}
	assert.Equal(t, 1, m.ActiveCount())
}

func TestManager_ResolveZone(t *testing.T) {
	m, _ := newManager(0)
	m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	m.OnTransition(enter("s2", cliffEdge, t0), cliffEdge)
	m.OnTransition(enter("s1", weatherBox, t0), weatherBox)

	resolved := m.ResolveZone(cliffEdge.ID, models.ReasonZoneRemoved)
	assert.Len(t, resolved, 2)
	active := m.List(Filter{ActiveOnly: true})
	require.Len(t, active, 1)
	assert.Equal(t, weatherBox.ID, active[0].ZoneID)
}

func TestManager_List_FilterAndOrder(t *testing.T) {
	m, _ := newManager(0)
	m.OnTransition(enter("s2", cliffEdge, t0.Add(2*time.Second)), cliffEdge)
	first, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	m.OnTransition(enter("s1", weatherBox, t0.Add(time.Second)), weatherBox)
	_, _, err := m.Dispatch(first.ID)
	require.NoError(t, err)

	all := m.List(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, "s2", all[2].SubjectID)

	dispatched := m.List(Filter{State: models.AlertDispatched})
	require.Len(t, dispatched, 1)
	assert.Equal(t, first.ID, dispatched[0].ID)

	assert.Len(t, m.List(Filter{SubjectID: "s1"}), 2)
	assert.Len(t, m.List(Filter{ZoneID: weatherBox.ID}), 1)
}

func TestManager_Prune(t *testing.T) {
	m, clk := newManager(10 * time.Second)
	a, _ := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge)
	m.OnTransition(enter("s2", cliffEdge, t0), cliffEdge)
	_, _, err := m.Resolve(a.ID, "done")
	require.NoError(t, err)

	// retention shorter than cooldown is raised to the cooldown
	assert.Equal(t, 0, m.Prune(clk.Now().Add(5*time.Second), time.Second))
	assert.Equal(t, 1, m.Prune(clk.Now().Add(11*time.Second), time.Second))

	_, err = m.Get(a.ID)
	assert.True(t, errors.Is(err, models.ErrUnknownAlert))
	assert.Equal(t, 1, m.ActiveCount())

	// pair is free again
	_, outcome := m.OnTransition(enter("s1", cliffEdge, t0.Add(time.Minute)), cliffEdge)
	assert.Equal(t, OutcomeCreated, outcome)
}

func TestManager_ConcurrentOnTransition_SingleActive(t *testing.T) {
	m, _ := newManager(0)
	var created int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, outcome := m.OnTransition(enter("s1", cliffEdge, t0), cliffEdge); outcome == OutcomeCreated {
				atomic.AddInt64(&created, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), created)
	assert.Equal(t, 1, m.ActiveCount())
}
