// Package alerting runs the per (subject, zone) alert lifecycle:
// Open → Dispatched → Responding → Resolved.
package alerting

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultReason is recorded when Resolve is called without a reason.
const DefaultReason = "resolved"

// forceResolveAttempts bounds CAS retries when the engine force-resolves.
const forceResolveAttempts = 5

// Outcome describes what OnTransition did with an event.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeBelowSeverity Outcome = "below_severity"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeCooldown      Outcome = "cooldown"
)

type pairKey struct {
	subjectID string
	zoneID    string
}

// slot holds the current immutable alert value; updates are compare-and-set.
type slot struct {
	cur atomic.Pointer[models.Alert]
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	SubjectID  string
	ZoneID     string
	State      models.AlertState
	ActiveOnly bool
}

// Manager owns all alerts.
type Manager struct {
	cooldown time.Duration
	clock    clock.Clock
	newID    func() string
	logger   *zap.Logger

	// mu guards the indexes, never the alert values themselves
	mu     sync.Mutex
	alerts map[string]*slot
	latest map[pairKey]string

	// beforeCommit runs between reading and swapping an alert; tests use it to
	// interleave a competing writer
	beforeCommit func(id string)
}

// NewManager creates a manager with the given post-resolution cooldown.
func NewManager(cooldown time.Duration, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		cooldown: cooldown,
		clock:    clk,
		newID:    func() string { return uuid.New().String() },
		logger:   logger,
		alerts:   make(map[string]*slot),
		latest:   make(map[pairKey]string),
	}
}

// OnTransition opens an alert when the subject confirmed entry into a zone of
// Medium risk or above, unless the pair already has an active alert or is
// cooling down after its last resolution.
func (m *Manager) OnTransition(evt models.TransitionEvent, target models.Zone) (*models.Alert, Outcome) {
	severity, ok := models.SeverityForRisk(target.RiskLevel)
	if !ok || evt.ToZone == models.Unzoned {
		return nil, OutcomeBelowSeverity
	}

	key := pairKey{subjectID: evt.SubjectID, zoneID: evt.ToZone}

	m.mu.Lock()
	defer m.mu.Unlock()

	if lastID, ok := m.latest[key]; ok {
		last := m.alerts[lastID].cur.Load()
		if last.Active() {
			m.logger.Debug("Alert suppressed, pair already active",
				zap.String("subject_id", evt.SubjectID),
				zap.String("zone_id", evt.ToZone),
				zap.String("alert_id", last.ID),
			)
			return nil, OutcomeDuplicate
		}
		// ResolvedAt is stamped by m.clock, so the cooldown is measured on it
		// too; sample timestamps come from device clocks and may be skewed
		if last.ResolvedAt != nil && m.clock.Now().Sub(*last.ResolvedAt) < m.cooldown {
			m.logger.Debug("Alert suppressed by cooldown",
				zap.String("subject_id", evt.SubjectID),
				zap.String("zone_id", evt.ToZone),
				zap.Time("resolved_at", *last.ResolvedAt),
			)
			return nil, OutcomeCooldown
		}
	}

	alert := &models.Alert{
		ID:        m.newID(),
		SubjectID: evt.SubjectID,
		ZoneID:    evt.ToZone,
		ZoneName:  target.Name,
		Severity:  severity,
		State:     models.AlertOpen,
		Version:   1,
		CreatedAt: evt.Timestamp,
		UpdatedAt: evt.Timestamp,
	}
	s := &slot{}
	s.cur.Store(alert)
	m.alerts[alert.ID] = s
	m.latest[key] = alert.ID

	m.logger.Info("Alert opened",
		zap.String("alert_id", alert.ID),
		zap.String("subject_id", alert.SubjectID),
		zap.String("zone_id", alert.ZoneID),
		zap.String("severity", string(alert.Severity)),
	)

	out := *alert
	return &out, OutcomeCreated
}

// Dispatch moves an alert to Dispatched.
func (m *Manager) Dispatch(id string) (*models.Alert, bool, error) {
	return m.Transition(id, models.AlertDispatched, "", 0)
}

// Respond moves an alert to Responding.
func (m *Manager) Respond(id string) (*models.Alert, bool, error) {
	return m.Transition(id, models.AlertResponding, "", 0)
}

// Resolve moves an alert to Resolved with reason.
func (m *Manager) Resolve(id, reason string) (*models.Alert, bool, error) {
	return m.Transition(id, models.AlertResolved, reason, 0)
}

// Transition advances alert id to target. expectedVersion > 0 additionally
// requires the alert to be at that version. The bool reports whether anything
// changed: an alert already at or past target is left alone. Leaving Resolved
// fails with ErrInvalidTransition; losing a concurrent update fails with ErrConflict.
func (m *Manager) Transition(id string, target models.AlertState, reason string, expectedVersion int64) (*models.Alert, bool, error) {
	if target.Rank() <= models.AlertOpen.Rank() {
		return nil, false, fmt.Errorf("%w: cannot move alert to %q", models.ErrInvalidTransition, target)
	}

	s, err := m.slot(id)
	if err != nil {
		return nil, false, err
	}

	cur := s.cur.Load()
	if expectedVersion > 0 && cur.Version != expectedVersion {
		return nil, false, fmt.Errorf("%w: alert %s is at version %d, expected %d", models.ErrConflict, id, cur.Version, expectedVersion)
	}
	if cur.State.Terminal() {
		if target == models.AlertResolved {
			out := *cur
			return &out, false, nil
		}
		return nil, false, fmt.Errorf("%w: alert %s is resolved", models.ErrInvalidTransition, id)
	}
	if cur.State.Rank() >= target.Rank() {
		out := *cur
		return &out, false, nil
	}

	now := m.clock.Now()
	next := *cur
	next.State = target
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	if target == models.AlertResolved {
		if reason == "" {
			reason = DefaultReason
		}
		next.ResolvedAt = &now
		next.ResolutionReason = reason
	}

	if m.beforeCommit != nil {
		m.beforeCommit(id)
	}
	if !s.cur.CompareAndSwap(cur, &next) {
		return nil, false, fmt.Errorf("%w: alert %s was modified concurrently", models.ErrConflict, id)
	}

	m.logger.Info("Alert state changed",
		zap.String("alert_id", id),
		zap.String("from", string(cur.State)),
		zap.String("to", string(target)),
		zap.Int64("version", next.Version),
	)

	out := next
	return &out, true, nil
}

// Get returns a copy of alert id.
func (m *Manager) Get(id string) (*models.Alert, error) {
	s, err := m.slot(id)
	if err != nil {
		return nil, err
	}
	out := *s.cur.Load()
	return &out, nil
}

// List returns matching alerts ordered by creation time, then id.
func (m *Manager) List(f Filter) []models.Alert {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.alerts))
	for _, s := range m.alerts {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	out := make([]models.Alert, 0, len(slots))
	for _, s := range slots {
		a := s.cur.Load()
		if f.SubjectID != "" && a.SubjectID != f.SubjectID {
			continue
		}
		if f.ZoneID != "" && a.ZoneID != f.ZoneID {
			continue
		}
		if f.State != "" && a.State != f.State {
			continue
		}
		if f.ActiveOnly && !a.Active() {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount is the number of non-resolved alerts.
func (m *Manager) ActiveCount() int {
	return len(m.List(Filter{ActiveOnly: true}))
}

// ResolveSubject force-resolves every active alert of a subject.
func (m *Manager) ResolveSubject(subjectID, reason string) []models.Alert {
	return m.forceResolve(func(k pairKey) bool { return k.subjectID == subjectID }, reason)
}

// ResolveZone force-resolves every active alert in a zone.
func (m *Manager) ResolveZone(zoneID, reason string) []models.Alert {
	return m.forceResolve(func(k pairKey) bool { return k.zoneID == zoneID }, reason)
}

func (m *Manager) forceResolve(match func(pairKey) bool, reason string) []models.Alert {
	m.mu.Lock()
	var ids []string
	for k, id := range m.latest {
		if match(k) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var resolved []models.Alert
	for _, id := range ids {
		for attempt := 1; attempt <= forceResolveAttempts; attempt++ {
			a, changed, err := m.Transition(id, models.AlertResolved, reason, 0)
			if err == nil {
				if changed {
					resolved = append(resolved, *a)
				}
				break
			}
			m.logger.Warn("Force resolve failed",
				zap.String("alert_id", id),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
	}
	return resolved
}

// Prune drops resolved alerts whose resolution is older than retention (never
// shorter than the cooldown, so suppression still sees them). It returns the
// number removed.
func (m *Manager) Prune(now time.Time, retention time.Duration) int {
	if retention < m.cooldown {
		retention = m.cooldown
	}
	cutoff := now.Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.alerts {
		a := s.cur.Load()
		if a.ResolvedAt == nil || !a.ResolvedAt.Before(cutoff) {
			continue
		}
		delete(m.alerts, id)
		key := pairKey{subjectID: a.SubjectID, zoneID: a.ZoneID}
		if m.latest[key] == id {
			delete(m.latest, key)
		}
		removed++
	}
	return removed
}

func (m *Manager) slot(id string) (*slot, error) {
	m.mu.Lock()
	s, ok := m.alerts[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownAlert, id)
	}
	return s, nil
}
