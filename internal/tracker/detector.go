// Package tracker owns per-subject state and turns raw zone resolutions into
// confirmed zone transitions using a dwell-time hysteresis filter.
package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"go.uber.org/zap"
)

// subjectState is guarded by its own mutex; one writer per subject at a time.
type subjectState struct {
	mu      sync.Mutex
	subject models.Subject

	lastZone     string
	pendingZone  string
	pendingSince time.Time
	hasPending   bool

	// set once the subject is removed from the table; holders must re-lookup
	evicted bool
}

// Detector tracks subjects and confirms transitions.
type Detector struct {
	dwell  time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	subjects map[string]*subjectState
}

// NewDetector creates a detector confirming crossings after dwell.
func NewDetector(dwell time.Duration, logger *zap.Logger) *Detector {
	return &Detector{
		dwell:    dwell,
		logger:   logger,
		subjects: make(map[string]*subjectState),
	}
}

// Dwell returns the configured dwell threshold.
func (d *Detector) Dwell() time.Duration { return d.dwell }

// Observe records a resolved sample for subjectID. It returns a non-nil event
// exactly when the sample confirms a crossing.
func (d *Detector) Observe(subjectID string, pos models.Point, zoneID string, ts time.Time) (*models.TransitionEvent, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", models.ErrValidation)
	}
	if ts.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is required", models.ErrValidation)
	}

	for {
		st := d.getOrCreate(subjectID, ts)
		st.mu.Lock()
		if st.evicted {
			// lost a race with Sweep; the next lookup creates a fresh entry
			st.mu.Unlock()
			continue
		}
		evt, err := d.apply(st, pos, zoneID, ts)
		st.mu.Unlock()
		return evt, err
	}
}

func (d *Detector) getOrCreate(subjectID string, ts time.Time) *subjectState {
	d.mu.RLock()
	st, ok := d.subjects[subjectID]
	d.mu.RUnlock()
	if ok {
		return st
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok = d.subjects[subjectID]; ok {
		return st
	}
	st = &subjectState{
		subject: models.Subject{
			ID:            subjectID,
			CurrentZoneID: models.Unzoned,
			FirstSampleAt: ts,
		},
		lastZone: models.Unzoned,
	}
	d.subjects[subjectID] = st
	d.logger.Debug("Subject registered", zap.String("subject_id", subjectID))
	return st
}

// apply runs the hysteresis rules. Caller holds st.mu.
func (d *Detector) apply(st *subjectState, pos models.Point, zoneID string, ts time.Time) (*models.TransitionEvent, error) {
	if !st.subject.LastSampleAt.IsZero() && ts.Before(st.subject.LastSampleAt) {
		return nil, fmt.Errorf("%w: sample for %s at %s is older than last sample %s",
			models.ErrValidation, st.subject.ID, ts.Format(time.RFC3339Nano), st.subject.LastSampleAt.Format(time.RFC3339Nano))
	}

	st.subject.Position = pos
	st.subject.LastSampleAt = ts
	st.subject.SamplesHandled++

	var evt *models.TransitionEvent
	switch {
	case zoneID == st.lastZone:
		st.hasPending = false
		st.pendingZone = models.Unzoned
	case st.hasPending && zoneID == st.pendingZone:
		if ts.Sub(st.pendingSince) >= d.dwell {
			evt = &models.TransitionEvent{
				SubjectID: st.subject.ID,
				FromZone:  st.lastZone,
				ToZone:    zoneID,
				Timestamp: ts,
			}
			st.lastZone = zoneID
			st.hasPending = false
			st.pendingZone = models.Unzoned
		}
	default:
		st.pendingZone = zoneID
		st.pendingSince = ts
		st.hasPending = true
	}

	st.subject.CurrentZoneID = st.lastZone
	st.subject.PendingZoneID = ""
	if st.hasPending {
		st.subject.PendingZoneID = st.pendingZone
	}

	if evt != nil {
		d.logger.Info("Zone transition confirmed",
			zap.String("subject_id", evt.SubjectID),
			zap.String("from_zone", evt.FromZone),
			zap.String("to_zone", evt.ToZone),
		)
	}
	return evt, nil
}

// Get returns a copy of the subject.
func (d *Detector) Get(subjectID string) (models.Subject, error) {
	d.mu.RLock()
	st, ok := d.subjects[subjectID]
	d.mu.RUnlock()
	if !ok {
		return models.Subject{}, fmt.Errorf("%w: %s", models.ErrUnknownSubject, subjectID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.subject, nil
}

// List returns copies of all subjects ordered by id.
func (d *Detector) List() []models.Subject {
	d.mu.RLock()
	states := make([]*subjectState, 0, len(d.subjects))
	for _, st := range d.subjects {
		states = append(states, st)
	}
	d.mu.RUnlock()

	out := make([]models.Subject, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.subject)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count is the number of tracked subjects.
func (d *Detector) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subjects)
}

// Forget drops a subject immediately.
func (d *Detector) Forget(subjectID string) (models.Subject, error) {
	d.mu.Lock()
	st, ok := d.subjects[subjectID]
	if ok {
		delete(d.subjects, subjectID)
	}
	d.mu.Unlock()
	if !ok {
		return models.Subject{}, fmt.Errorf("%w: %s", models.ErrUnknownSubject, subjectID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.evicted = true
	return st.subject, nil
}

// Sweep evicts subjects whose last sample is older than timeout at now and
// returns them.
func (d *Detector) Sweep(now time.Time, timeout time.Duration) []models.Subject {
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted []models.Subject
	for id, st := range d.subjects {
		st.mu.Lock()
		if now.Sub(st.subject.LastSampleAt) > timeout {
			st.evicted = true
			evicted = append(evicted, st.subject)
			delete(d.subjects, id)
		}
		st.mu.Unlock()
	}

	sort.Slice(evicted, func(i, j int) bool { return evicted[i].ID < evicted[j].ID })
	for _, s := range evicted {
		d.logger.Info("Subject evicted after inactivity",
			zap.String("subject_id", s.ID),
			zap.Time("last_sample_at", s.LastSampleAt),
			zap.Duration("timeout", timeout),
		)
	}
	return evicted
}
