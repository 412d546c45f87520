package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MADA-gnuBD/bikeops/models"
)

// SaveSnapshot records a snapshot, appends station history and replaces
// stations_current with the snapshot's stations
func (db *DB) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snapshotID := snap.ID.String()
	polledAt := formatTime(snap.PolledAt)

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (snapshot_id, polled_at_utc, station_count) VALUES (?, ?, ?)",
		snapshotID, polledAt, len(snap.Stations),
	); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	currentStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stations_current (
			station_id, snapshot_id, station_name, bikes, racks,
			latitude, longitude, shared, polled_at_utc, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (station_id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			station_name = excluded.station_name,
			bikes = excluded.bikes,
			racks = excluded.racks,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			shared = excluded.shared,
			polled_at_utc = excluded.polled_at_utc,
			updated_at = datetime('now')
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare current statement: %w", err)
	}
	defer currentStmt.Close()

	historyStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO station_history (
			snapshot_id, station_id, bikes, racks, polled_at_utc
		) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history statement: %w", err)
	}
	defer historyStmt.Close()

	for _, s := range snap.Stations {
		if _, err := currentStmt.ExecContext(ctx,
			s.ID, snapshotID, s.Name, s.Bikes, s.Racks,
			s.Latitude, s.Longitude, s.Shared, polledAt,
		); err != nil {
			return fmt.Errorf("failed to upsert station %s: %w", s.ID, err)
		}
		if _, err := historyStmt.ExecContext(ctx, snapshotID, s.ID, s.Bikes, s.Racks, polledAt); err != nil {
			return fmt.Errorf("failed to insert history %s: %w", s.ID, err)
		}
	}

	// stations that vanished from the feed leave the current table
	if _, err := tx.ExecContext(ctx, "DELETE FROM stations_current WHERE snapshot_id != ?", snapshotID); err != nil {
		return fmt.Errorf("failed to prune current stations: %w", err)
	}

	return tx.Commit()
}

// LatestSnapshot rebuilds the most recent snapshot from stations_current.
// It returns nil when nothing was ever saved.
func (db *DB) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var id, polledAt string
	err := db.conn.QueryRowContext(ctx,
		"SELECT snapshot_id, polled_at_utc FROM snapshots ORDER BY polled_at_utc DESC LIMIT 1",
	).Scan(&id, &polledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	snapID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot id %q: %w", id, err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT station_id, station_name, bikes, racks, latitude, longitude, shared
		FROM stations_current
		WHERE snapshot_id = ?
		ORDER BY station_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query current stations: %w", err)
	}
	defer rows.Close()

	snap := &models.Snapshot{ID: snapID, PolledAt: parseTime(polledAt)}
	for rows.Next() {
		var s models.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Bikes, &s.Racks, &s.Latitude, &s.Longitude, &s.Shared); err != nil {
			return nil, fmt.Errorf("failed to scan station row: %w", err)
		}
		snap.Stations = append(snap.Stations, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating station rows: %w", err)
	}
	return snap, nil
}
