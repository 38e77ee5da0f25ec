package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ZoneRepository stores the zone catalog in PostgreSQL.
type ZoneRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewZoneRepository creates a zone repository.
func NewZoneRepository(db *sql.DB, logger *zap.Logger) *ZoneRepository {
	return &ZoneRepository{db: db, logger: logger}
}

// ListZones returns every zone, active or not, ordered by id.
func (r *ZoneRepository) ListZones(ctx context.Context) ([]models.Zone, error) {
	query := `
		SELECT zone_id, name, risk_level, geometry, active
		FROM geofence_zones
		ORDER BY zone_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []models.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			// skip the bad row, keep the rest of the catalog
			r.logger.Warn("Skipping unreadable zone row", zap.Error(err))
			continue
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}
	return zones, nil
}

// GetZone returns one zone.
func (r *ZoneRepository) GetZone(ctx context.Context, zoneID string) (*models.Zone, error) {
	if zoneID == "" {
		return nil, fmt.Errorf("zone_id is required")
	}
	query := `
		SELECT zone_id, name, risk_level, geometry, active
		FROM geofence_zones
		WHERE zone_id = $1
	`
	z, err := scanZone(r.db.QueryRowContext(ctx, query, zoneID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownZone, zoneID)
		}
		return nil, fmt.Errorf("failed to get zone %s: %w", zoneID, err)
	}
	return &z, nil
}

// UpsertZone inserts or replaces a zone.
func (r *ZoneRepository) UpsertZone(ctx context.Context, z models.Zone) error {
	geometry, err := json.Marshal(z.Geometry)
	if err != nil {
		return fmt.Errorf("failed to marshal geometry for %s: %w", z.ID, err)
	}
	query := `
		INSERT INTO geofence_zones (zone_id, name, risk_level, geometry, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (zone_id) DO UPDATE SET
			name = EXCLUDED.name,
			risk_level = EXCLUDED.risk_level,
			geometry = EXCLUDED.geometry,
			active = EXCLUDED.active,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, z.ID, z.Name, string(z.RiskLevel), geometry, z.Active); err != nil {
		return fmt.Errorf("failed to upsert zone %s: %w", z.ID, err)
	}
	return nil
}

// DeleteZones removes zones by id and returns how many were deleted.
func (r *ZoneRepository) DeleteZones(ctx context.Context, zoneIDs []string) (int64, error) {
	if len(zoneIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM geofence_zones WHERE zone_id = ANY($1)`, pq.Array(zoneIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete zones: %w", err)
	}
	return res.RowsAffected()
}

// SeedIfEmpty writes zones when the table has no rows, returning true if it did.
func (r *ZoneRepository) SeedIfEmpty(ctx context.Context, zones []models.Zone) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM geofence_zones`).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count zones: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	for _, z := range zones {
		if err := r.UpsertZone(ctx, z); err != nil {
			return false, err
		}
	}
	r.logger.Info("Seeded zone catalog", zap.Int("zones", len(zones)))
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanZone(row rowScanner) (models.Zone, error) {
	var z models.Zone
	var risk string
	var geometry []byte
	if err := row.Scan(&z.ID, &z.Name, &risk, &geometry, &z.Active); err != nil {
		return models.Zone{}, err
	}
	level, err := models.ParseRiskLevel(risk)
	if err != nil {
		return models.Zone{}, fmt.Errorf("zone %s: %w", z.ID, err)
	}
	z.RiskLevel = level
	if err := json.Unmarshal(geometry, &z.Geometry); err != nil {
		return models.Zone{}, fmt.Errorf("zone %s: invalid geometry: %w", z.ID, err)
	}
	return z, nil
}
