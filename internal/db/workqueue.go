package db

import (
	"context"
	"fmt"

	"github.com/MADA-gnuBD/bikeops/models"
)

// LoadWork returns the persisted queue and completed set
func (db *DB) LoadWork(ctx context.Context) ([]models.WorkItem, []models.CompletedWork, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT station_id, station_name, latitude, longitude, queued_by, queued_at_utc
		FROM work_queue
		ORDER BY queued_at_utc, station_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query work queue: %w", err)
	}
	var items []models.WorkItem
	for rows.Next() {
		var it models.WorkItem
		var queuedAt string
		if err := rows.Scan(&it.StationID, &it.StationName, &it.Latitude, &it.Longitude, &it.QueuedBy, &queuedAt); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		it.QueuedAt = parseTime(queuedAt)
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating work queue: %w", err)
	}

	rows, err = db.conn.QueryContext(ctx, `
		SELECT station_id, completed_by, completed_at_utc
		FROM work_completed
		ORDER BY completed_at_utc DESC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query completed work: %w", err)
	}
	defer rows.Close()
	var done []models.CompletedWork
	for rows.Next() {
		var d models.CompletedWork
		var completedAt string
		if err := rows.Scan(&d.StationID, &d.CompletedBy, &completedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan completed work: %w", err)
		}
		d.CompletedAt = parseTime(completedAt)
		done = append(done, d)
	}
	return items, done, rows.Err()
}

// SaveWorkItem inserts or replaces a queued station
func (db *DB) SaveWorkItem(ctx context.Context, it models.WorkItem) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO work_queue (station_id, station_name, latitude, longitude, queued_by, queued_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_id) DO UPDATE SET
			station_name = excluded.station_name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			queued_by = excluded.queued_by,
			queued_at_utc = excluded.queued_at_utc
	`, it.StationID, it.StationName, it.Latitude, it.Longitude, it.QueuedBy, formatTime(it.QueuedAt))
	if err != nil {
		return fmt.Errorf("failed to save work item %s: %w", it.StationID, err)
	}
	return nil
}

// DeleteWorkItem removes a queued station
func (db *DB) DeleteWorkItem(ctx context.Context, stationID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx, "DELETE FROM work_queue WHERE station_id = ?", stationID); err != nil {
		return fmt.Errorf("failed to delete work item %s: %w", stationID, err)
	}
	return nil
}

// SaveCompleted marks a station as rebalanced
func (db *DB) SaveCompleted(ctx context.Context, d models.CompletedWork) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO work_completed (station_id, completed_by, completed_at_utc)
		VALUES (?, ?, ?)
		ON CONFLICT (station_id) DO UPDATE SET
			completed_by = excluded.completed_by,
			completed_at_utc = excluded.completed_at_utc
	`, d.StationID, d.CompletedBy, formatTime(d.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save completed work %s: %w", d.StationID, err)
	}
	return nil
}

// DeleteCompleted clears a station's completed mark
func (db *DB) DeleteCompleted(ctx context.Context, stationID string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx, "DELETE FROM work_completed WHERE station_id = ?", stationID); err != nil {
		return fmt.Errorf("failed to delete completed work %s: %w", stationID, err)
	}
	return nil
}
