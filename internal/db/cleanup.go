package db

import (
	"context"
	"fmt"
	"time"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
)

// Cleanup deletes history, snapshots and completion marks older than retention
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return db.CleanupBefore(ctx, time.Now().Add(-retention))
}

// CleanupBefore deletes history and snapshots polled before cutoff, and
// completion marks set before it. The snapshot behind stations_current is
// always kept.
func (db *DB) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	c := formatTime(cutoff)
	queries := []struct {
		name  string
		query string
	}{
		{
			name:  "station_history",
			query: "DELETE FROM station_history WHERE polled_at_utc < ?",
		},
		{
			name:  "snapshots",
			query: "DELETE FROM snapshots WHERE polled_at_utc < ? AND snapshot_id NOT IN (SELECT DISTINCT snapshot_id FROM stations_current)",
		},
		{
			name:  "work_completed",
			query: "DELETE FROM work_completed WHERE completed_at_utc < ?",
		},
	}

	var total int64
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query, c)
		if err != nil {
			return total, fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

// Cleaner is anything that can drop rows older than a retention window.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// RetentionService runs Cleanup on a fixed interval.
type RetentionService struct {
	cleaner   Cleaner
	retention time.Duration
	interval  time.Duration
}

// NewRetentionService creates the cleanup loop.
func NewRetentionService(c Cleaner, retention, interval time.Duration) *RetentionService {
	return &RetentionService{cleaner: c, retention: retention, interval: interval}
}

// Serve cleans once at start and then on every tick.
func (s *RetentionService) Serve(ctx context.Context) error {
	logging.Info().Dur("retention", s.retention).Dur("interval", s.interval).Msg("retention cleanup started")
	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *RetentionService) run(ctx context.Context) {
	n, err := s.cleaner.Cleanup(ctx, s.retention)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Msg("retention cleanup failed")
		}
		return
	}
	if n > 0 {
		logging.Info().Int64("deleted", n).Dur("retention", s.retention).Msg("retention cleanup")
	}
}

func (s *RetentionService) String() string { return "retention-cleanup" }
