package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the tracking engine.
type Metrics struct {
	PositionsProcessed  prometheus.Counter
	DensitySamples      prometheus.Counter
	SamplesRejected     *prometheus.CounterVec
	Transitions         prometheus.Counter
	AlertsCreated       *prometheus.CounterVec
	AlertsSuppressed    *prometheus.CounterVec
	AlertStateChanges   *prometheus.CounterVec
	ActiveAlerts        prometheus.Gauge
	SubjectsTracked     prometheus.Gauge
	SubjectsEvicted     prometheus.Counter
	DensityTierChanges  *prometheus.CounterVec
	ZoneReloads         *prometheus.CounterVec
	NotificationsQueued prometheus.Counter
	NotificationsDrop   prometheus.Counter
	SinkFailures        *prometheus.CounterVec
	SubmitDuration      prometheus.Histogram
}

// New registers all engine metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PositionsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_positions_processed_total",
			Help: "Total number of position samples accepted",
		}),
		DensitySamples: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_density_samples_total",
			Help: "Total number of density samples accepted",
		}),
		SamplesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_samples_rejected_total",
			Help: "Samples rejected by validation, by kind",
		}, []string{"kind"}),
		Transitions: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_zone_transitions_total",
			Help: "Confirmed zone transitions",
		}),
		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_alerts_created_total",
			Help: "Alerts opened, by severity",
		}, []string{"severity"}),
		AlertsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_alerts_suppressed_total",
			Help: "Transitions into alerting zones that did not open an alert, by reason",
		}, []string{"reason"}),
		AlertStateChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_alert_state_changes_total",
			Help: "Alert state changes, by target state",
		}, []string{"state"}),
		ActiveAlerts: f.NewGauge(prometheus.GaugeOpts{
			Name: "safetrack_active_alerts",
			Help: "Alerts not yet resolved",
		}),
		SubjectsTracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "safetrack_subjects_tracked",
			Help: "Subjects currently held in the subject table",
		}),
		SubjectsEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_subjects_evicted_total",
			Help: "Subjects evicted after going stale",
		}),
		DensityTierChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_density_tier_changes_total",
			Help: "Density tier changes, by new tier",
		}, []string{"tier"}),
		ZoneReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_zone_reloads_total",
			Help: "Zone catalog loads, by result",
		}, []string{"result"}),
		NotificationsQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_notifications_queued_total",
			Help: "Events accepted by the notification dispatcher",
		}),
		NotificationsDrop: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_notifications_dropped_total",
			Help: "Events dropped because the dispatcher queue was full",
		}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_sink_failures_total",
			Help: "Notification delivery failures, by sink",
		}, []string{"sink"}),
		SubmitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safetrack_submit_position_duration_seconds",
			Help:    "Duration of SubmitPosition (resolve, detect, alert)",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
	}
}

// ObserveSubmit records the duration of a SubmitPosition call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSubmit(start time.Time) {
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

// Rejected records a rejected sample of the given kind ("position", "density").
func (m *Metrics) Rejected(kind string) {
	m.SamplesRejected.WithLabelValues(kind).Inc()
}
