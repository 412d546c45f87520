package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MADA-gnuBD/bikeops/models"
)

//go:embed postgres_schema.sql
var postgresSchema string

// PostgresStore keeps everything in a shared Postgres database
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and ensures the schema
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the pool
func (r *PostgresStore) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks the connection
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// SaveSnapshot records a snapshot, bulk-copies its history rows and
// replaces stations_current
func (r *PostgresStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	polledAt := snap.PolledAt.UTC()
	if _, err := tx.Exec(ctx,
		"INSERT INTO snapshots (snapshot_id, polled_at_utc, station_count) VALUES ($1, $2, $3)",
		snap.ID, polledAt, len(snap.Stations),
	); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	history := make([][]any, 0, len(snap.Stations))
	batch := &pgx.Batch{}
	for _, s := range snap.Stations {
		history = append(history, []any{snap.ID, s.ID, s.Bikes, s.Racks, polledAt})
		batch.Queue(`
			INSERT INTO stations_current (
				station_id, snapshot_id, station_name, bikes, racks,
				latitude, longitude, shared, polled_at_utc, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			ON CONFLICT (station_id) DO UPDATE SET
				snapshot_id = EXCLUDED.snapshot_id,
				station_name = EXCLUDED.station_name,
				bikes = EXCLUDED.bikes,
				racks = EXCLUDED.racks,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				shared = EXCLUDED.shared,
				polled_at_utc = EXCLUDED.polled_at_utc,
				updated_at = NOW()
		`, s.ID, snap.ID, s.Name, s.Bikes, s.Racks, s.Latitude, s.Longitude, s.Shared, polledAt)
	}
	batch.Queue("DELETE FROM stations_current WHERE snapshot_id <> $1", snap.ID)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert current stations: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"station_history"},
		[]string{"snapshot_id", "station_id", "bikes", "racks", "polled_at_utc"},
		pgx.CopyFromRows(history),
	); err != nil {
		return fmt.Errorf("failed to copy station history: %w", err)
	}

	return tx.Commit(ctx)
}

// LatestSnapshot rebuilds the most recent snapshot from stations_current
func (r *PostgresStore) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	err := r.pool.QueryRow(ctx,
		"SELECT snapshot_id, polled_at_utc FROM snapshots ORDER BY polled_at_utc DESC LIMIT 1",
	).Scan(&snap.ID, &snap.PolledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT station_id, station_name, bikes, racks, latitude, longitude, shared
		FROM stations_current
		WHERE snapshot_id = $1
		ORDER BY station_id
	`, snap.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query current stations: %w", err)
	}
	stations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Station, error) {
		var s models.Station
		err := row.Scan(&s.ID, &s.Name, &s.Bikes, &s.Racks, &s.Latitude, &s.Longitude, &s.Shared)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan station rows: %w", err)
	}
	snap.Stations = stations
	return snap, nil
}

// GetStationHistory returns one station's bike counts since a time, oldest first
func (r *PostgresStore) GetStationHistory(ctx context.Context, stationID string, since time.Time) ([]models.StationHistoryPoint, error) {
	if stationID == "" {
		return nil, errors.New("station_id cannot be empty")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT snapshot_id, bikes, racks, polled_at_utc
		FROM station_history
		WHERE station_id = $1 AND polled_at_utc >= $2
		ORDER BY polled_at_utc
	`, stationID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query station history: %w", err)
	}
	points, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.StationHistoryPoint])
	if err != nil {
		return nil, fmt.Errorf("failed to scan history rows: %w", err)
	}
	if points == nil {
		points = []models.StationHistoryPoint{}
	}
	return points, nil
}

// LoadWork returns the persisted queue and completed set
func (r *PostgresStore) LoadWork(ctx context.Context) ([]models.WorkItem, []models.CompletedWork, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT station_id, station_name, latitude, longitude, queued_by, queued_at_utc
		FROM work_queue
		ORDER BY queued_at_utc, station_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query work queue: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.WorkItem, error) {
		var it models.WorkItem
		err := row.Scan(&it.StationID, &it.StationName, &it.Latitude, &it.Longitude, &it.QueuedBy, &it.QueuedAt)
		return it, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan work items: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT station_id, completed_by, completed_at_utc
		FROM work_completed
		ORDER BY completed_at_utc DESC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query completed work: %w", err)
	}
	done, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.CompletedWork])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan completed work: %w", err)
	}
	return items, done, nil
}

// SaveWorkItem inserts or replaces a queued station
func (r *PostgresStore) SaveWorkItem(ctx context.Context, it models.WorkItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO work_queue (station_id, station_name, latitude, longitude, queued_by, queued_at_utc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (station_id) DO UPDATE SET
			station_name = EXCLUDED.station_name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			queued_by = EXCLUDED.queued_by,
			queued_at_utc = EXCLUDED.queued_at_utc
	`, it.StationID, it.StationName, it.Latitude, it.Longitude, it.QueuedBy, it.QueuedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save work item %s: %w", it.StationID, err)
	}
	return nil
}

// DeleteWorkItem removes a queued station
func (r *PostgresStore) DeleteWorkItem(ctx context.Context, stationID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM work_queue WHERE station_id = $1", stationID); err != nil {
		return fmt.Errorf("failed to delete work item %s: %w", stationID, err)
	}
	return nil
}

// SaveCompleted marks a station as rebalanced
func (r *PostgresStore) SaveCompleted(ctx context.Context, d models.CompletedWork) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO work_completed (station_id, completed_by, completed_at_utc)
		VALUES ($1, $2, $3)
		ON CONFLICT (station_id) DO UPDATE SET
			completed_by = EXCLUDED.completed_by,
			completed_at_utc = EXCLUDED.completed_at_utc
	`, d.StationID, d.CompletedBy, d.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save completed work %s: %w", d.StationID, err)
	}
	return nil
}

// DeleteCompleted clears a station's completed mark
func (r *PostgresStore) DeleteCompleted(ctx context.Context, stationID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM work_completed WHERE station_id = $1", stationID); err != nil {
		return fmt.Errorf("failed to delete completed work %s: %w", stationID, err)
	}
	return nil
}

// Cleanup deletes history, snapshots and completion marks older than
// retention, keeping the snapshot behind stations_current
func (r *PostgresStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	var total int64

	tag, err := r.pool.Exec(ctx, "DELETE FROM station_history WHERE polled_at_utc < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup station_history: %w", err)
	}
	total += tag.RowsAffected()

	tag, err = r.pool.Exec(ctx, `
		DELETE FROM snapshots
		WHERE polled_at_utc < $1
		  AND snapshot_id NOT IN (SELECT DISTINCT snapshot_id FROM stations_current)
	`, cutoff)
	if err != nil {
		return total, fmt.Errorf("failed to cleanup snapshots: %w", err)
	}
	total += tag.RowsAffected()

	tag, err = r.pool.Exec(ctx, "DELETE FROM work_completed WHERE completed_at_utc < $1", cutoff)
	if err != nil {
		return total, fmt.Errorf("failed to cleanup work_completed: %w", err)
	}
	total += tag.RowsAffected()
	return total, nil
}
