package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"go.uber.org/zap"
)

// AlertArchive records alert lifecycle events in PostgreSQL. It is a
// notification sink: other event types are ignored.
type AlertArchive struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertArchive creates an alert archive.
func NewAlertArchive(db *sql.DB, logger *zap.Logger) *AlertArchive {
	return &AlertArchive{db: db, logger: logger}
}

func (a *AlertArchive) Name() string { return "postgres_archive" }

// Deliver stores AlertEvents; a repeated (alert, state) pair is ignored.
func (a *AlertArchive) Deliver(ctx context.Context, evt models.Event) error {
	ae, ok := evt.(models.AlertEvent)
	if !ok {
		return nil
	}
	query := `
		INSERT INTO geofence_alert_events
			(alert_id, subject_id, zone_id, severity, state, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id, state) DO NOTHING
	`
	var reason sql.NullString
	if ae.Reason != "" {
		reason = sql.NullString{String: ae.Reason, Valid: true}
	}
	_, err := a.db.ExecContext(ctx, query,
		ae.AlertID, ae.SubjectID, ae.ZoneID, string(ae.Severity), string(ae.State), reason, ae.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to archive alert %s: %w", ae.AlertID, err)
	}
	return nil
}

// History returns the archived events of one alert, oldest first.
func (a *AlertArchive) History(ctx context.Context, alertID string) ([]models.AlertEvent, error) {
	query := `
		SELECT alert_id, subject_id, zone_id, severity, state, reason, occurred_at
		FROM geofence_alert_events
		WHERE alert_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := a.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}
	defer rows.Close()

	var out []models.AlertEvent
	for rows.Next() {
		var e models.AlertEvent
		var severity, state string
		var reason sql.NullString
		if err := rows.Scan(&e.AlertID, &e.SubjectID, &e.ZoneID, &severity, &state, &reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		e.Severity = models.Severity(severity)
		e.State = models.AlertState(state)
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}
