package engine

import (
	"time"

	"github.com/krishan2005op/safe-track-go/internal/alerting"
	"github.com/krishan2005op/safe-track-go/internal/models"
)

// ZoneStatus is one zone in the situational summary.
type ZoneStatus struct {
	ZoneID       string           `json:"zone_id"`
	Name         string           `json:"name"`
	RiskLevel    models.RiskLevel `json:"risk_level"`
	Active       bool             `json:"active"`
	Occupants    int              `json:"occupants"`
	ActiveAlerts int              `json:"active_alerts"`
	DensityTier  models.Tier      `json:"density_tier,omitempty"`
	DensityValue *float64         `json:"density_value,omitempty"`
}

// Summary is the operator overview: counts plus per-zone status.
type Summary struct {
	GeneratedAt      time.Time               `json:"generated_at"`
	ZoneVersion      uint64                  `json:"zone_version"`
	TrackedSubjects  int                     `json:"tracked_subjects"`
	UnzonedSubjects  int                     `json:"unzoned_subjects"`
	ActiveAlerts     int                     `json:"active_alerts"`
	AlertsBySeverity map[models.Severity]int `json:"alerts_by_severity"`
	Zones            []ZoneStatus            `json:"zones"`
}

// Summary builds the current overview.
func (e *Engine) Summary() Summary {
	snap := e.registry.Snapshot()
	zones := snap.Zones()

	occupants := make(map[string]int)
	subjects := e.detector.List()
	for _, s := range subjects {
		occupants[s.CurrentZoneID]++
	}

	alertsByZone := make(map[string]int)
	bySeverity := make(map[models.Severity]int)
	active := e.alerts.List(alerting.Filter{ActiveOnly: true})
	for _, a := range active {
		alertsByZone[a.ZoneID]++
		bySeverity[a.Severity]++
	}

	statuses := make([]ZoneStatus, 0, len(zones))
	for _, z := range zones {
		st := ZoneStatus{
			ZoneID:       z.ID,
			Name:         z.Name,
			RiskLevel:    z.RiskLevel,
			Active:       z.Active,
			Occupants:    occupants[z.ID],
			ActiveAlerts: alertsByZone[z.ID],
		}
		if est, ok := e.density.Estimate(z.ID); ok {
			v := est.SmoothedValue
			st.DensityTier = est.Tier
			st.DensityValue = &v
		}
		statuses = append(statuses, st)
	}

	return Summary{
		GeneratedAt:      e.clock.Now(),
		ZoneVersion:      snap.Version(),
		TrackedSubjects:  len(subjects),
		UnzonedSubjects:  occupants[models.Unzoned],
		ActiveAlerts:     len(active),
		AlertsBySeverity: bySeverity,
		Zones:            statuses,
	}
}
