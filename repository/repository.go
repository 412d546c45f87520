// Package repository provides the persistence backends the service runs on:
// SQLite (default) and Postgres (when DATABASE_URL is set).
package repository

import (
	"context"
	"time"

	"github.com/MADA-gnuBD/bikeops/internal/db"
	"github.com/MADA-gnuBD/bikeops/models"
)

// Store is everything the service persists
type Store interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	LatestSnapshot(ctx context.Context) (*models.Snapshot, error)
	GetStationHistory(ctx context.Context, stationID string, since time.Time) ([]models.StationHistoryPoint, error)

	LoadWork(ctx context.Context) ([]models.WorkItem, []models.CompletedWork, error)
	SaveWorkItem(ctx context.Context, it models.WorkItem) error
	DeleteWorkItem(ctx context.Context, stationID string) error
	SaveCompleted(ctx context.Context, d models.CompletedWork) error
	DeleteCompleted(ctx context.Context, stationID string) error

	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns a Postgres store when databaseURL is set, otherwise a SQLite
// store at dbPath. The schema is created if missing.
func Open(ctx context.Context, databaseURL, dbPath string) (Store, error) {
	if databaseURL != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	database, err := db.Connect(dbPath)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return NewSQLiteStore(database), nil
}
