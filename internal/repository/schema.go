package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the tables used by the zone catalog and the alert archive.
const Schema = `
CREATE TABLE IF NOT EXISTS geofence_zones (
	zone_id     TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	risk_level  TEXT NOT NULL,
	geometry    JSONB NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS geofence_alert_events (
	id          BIGSERIAL PRIMARY KEY,
	alert_id    TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	zone_id     TEXT NOT NULL,
	severity    TEXT NOT NULL,
	state       TEXT NOT NULL,
	reason      TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	UNIQUE (alert_id, state)
);

CREATE INDEX IF NOT EXISTS idx_geofence_alert_events_subject
	ON geofence_alert_events (subject_id, occurred_at DESC);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
