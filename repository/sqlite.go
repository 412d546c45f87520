package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MADA-gnuBD/bikeops/internal/db"
	"github.com/MADA-gnuBD/bikeops/models"
)

// SQLiteStore reads from the database internal/db writes to
type SQLiteStore struct {
	*db.DB
}

// NewSQLiteStore wraps an open database
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{DB: database}
}

// GetStationHistory returns one station's bike counts polled at or after
// since, oldest first
func (s *SQLiteStore) GetStationHistory(ctx context.Context, stationID string, since time.Time) ([]models.StationHistoryPoint, error) {
	if stationID == "" {
		return nil, errors.New("station_id cannot be empty")
	}

	rows, err := s.Conn().QueryContext(ctx, `
		SELECT snapshot_id, bikes, racks, polled_at_utc
		FROM station_history
		WHERE station_id = ? AND polled_at_utc >= ?
		ORDER BY polled_at_utc
	`, stationID, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query station history: %w", err)
	}
	defer rows.Close()

	points := []models.StationHistoryPoint{}
	for rows.Next() {
		var p models.StationHistoryPoint
		var id, polledAt string
		if err := rows.Scan(&id, &p.Bikes, &p.Racks, &polledAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if p.SnapshotID, err = uuid.Parse(id); err != nil {
			continue
		}
		if p.PolledAt, err = time.Parse(time.RFC3339, polledAt); err != nil {
			continue
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return points, nil
}
