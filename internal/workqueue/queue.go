// Package workqueue tracks stations staff have queued for rebalancing and
// the ones they have finished.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/models"
)

// ErrNotQueued is returned when completing a station that is not queued.
var ErrNotQueued = errors.New("station is not in the work queue")

// CompletedFor is how long a finished station keeps its completed status.
const CompletedFor = 12 * time.Hour

// Store persists queue state.
type Store interface {
	LoadWork(ctx context.Context) ([]models.WorkItem, []models.CompletedWork, error)
	SaveWorkItem(ctx context.Context, item models.WorkItem) error
	DeleteWorkItem(ctx context.Context, stationID string) error
	SaveCompleted(ctx context.Context, done models.CompletedWork) error
	DeleteCompleted(ctx context.Context, stationID string) error
}

// Recorder writes completed jobs to the backend's work history.
type Recorder interface {
	CreateWorkHistory(ctx context.Context, in models.WorkHistoryInput) (models.WorkHistory, error)
}

// Queue is safe for concurrent use. store and recorder may be nil.
type Queue struct {
	store    Store
	recorder Recorder
	now      func() time.Time

	mu        sync.RWMutex
	items     map[string]models.WorkItem
	completed map[string]models.CompletedWork

	listenMu  sync.Mutex
	listeners []func()
}

// New creates an empty queue.
func New(store Store, recorder Recorder) *Queue {
	return &Queue{
		store:     store,
		recorder:  recorder,
		now:       time.Now,
		items:     make(map[string]models.WorkItem),
		completed: make(map[string]models.CompletedWork),
	}
}

// Load replaces in-memory state with what the store holds.
func (q *Queue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	items, done, err := q.store.LoadWork(ctx)
	if err != nil {
		return fmt.Errorf("load work queue: %w", err)
	}
	q.mu.Lock()
	q.items = make(map[string]models.WorkItem, len(items))
	for _, it := range items {
		q.items[it.StationID] = it
	}
	q.completed = make(map[string]models.CompletedWork, len(done))
	for _, d := range done {
		if q.fresh(d) {
			q.completed[d.StationID] = d
		}
	}
	q.mu.Unlock()
	logging.Info().Int("queued", len(items)).Int("completed", len(done)).Msg("work queue loaded")
	return nil
}

// OnChange registers fn to run after every queue mutation.
func (q *Queue) OnChange(fn func()) {
	q.listenMu.Lock()
	q.listeners = append(q.listeners, fn)
	q.listenMu.Unlock()
}

func (q *Queue) changed() {
	q.listenMu.Lock()
	fns := append([]func(){}, q.listeners...)
	q.listenMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Add queues a station. Adding a queued station again changes nothing and
// returns the existing item with added=false. Queuing a completed station
// clears its completion.
func (q *Queue) Add(ctx context.Context, s models.Station, queuedBy string) (models.WorkItem, bool, error) {
	q.mu.Lock()
	if it, ok := q.items[s.ID]; ok {
		q.mu.Unlock()
		return it, false, nil
	}
	_, wasDone := q.completed[s.ID]
	delete(q.completed, s.ID)
	it := models.WorkItem{
		StationID:   s.ID,
		StationName: s.Name,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		QueuedBy:    queuedBy,
		QueuedAt:    q.now().UTC(),
	}
	q.items[s.ID] = it
	q.mu.Unlock()

	var err error
	if q.store != nil {
		if err = q.store.SaveWorkItem(ctx, it); err != nil {
			err = fmt.Errorf("persist work item: %w", err)
		} else if wasDone {
			if err = q.store.DeleteCompleted(ctx, s.ID); err != nil {
				err = fmt.Errorf("clear completed work: %w", err)
			}
		}
	}
	q.changed()
	return it, true, err
}

// Remove drops a station from the queue. It reports whether it was queued.
func (q *Queue) Remove(ctx context.Context, stationID string) (bool, error) {
	q.mu.Lock()
	_, ok := q.items[stationID]
	delete(q.items, stationID)
	q.mu.Unlock()
	if !ok {
		return false, nil
	}

	var err error
	if q.store != nil {
		if err = q.store.DeleteWorkItem(ctx, stationID); err != nil {
			err = fmt.Errorf("delete work item: %w", err)
		}
	}
	q.changed()
	return true, err
}

// Complete takes a station off the queue, marks it done and records a work
// history entry whose action follows the station's current stock. Local
// state is kept even when the backend call fails; that error is returned.
func (q *Queue) Complete(ctx context.Context, st models.Station, user models.User, notes string) (models.CompletedWork, error) {
	stationID := st.ID
	q.mu.Lock()
	it, ok := q.items[stationID]
	if !ok {
		q.mu.Unlock()
		return models.CompletedWork{}, ErrNotQueued
	}
	delete(q.items, stationID)
	done := models.CompletedWork{
		StationID:   stationID,
		CompletedBy: user.Email,
		CompletedAt: q.now().UTC(),
	}
	q.completed[stationID] = done
	q.mu.Unlock()
	q.changed()

	if q.store != nil {
		if err := q.store.DeleteWorkItem(ctx, stationID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("station_id", stationID).Msg("failed to delete completed work item")
		}
		if err := q.store.SaveCompleted(ctx, done); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("station_id", stationID).Msg("failed to persist completed work")
		}
	}

	if q.recorder != nil {
		action, summary := WorkDone(st)
		if notes != "" {
			summary += "; " + notes
		}
		_, err := q.recorder.CreateWorkHistory(ctx, models.WorkHistoryInput{
			UserID:      user.ID,
			StationName: it.StationName,
			StationID:   stationID,
			Action:      action,
			Notes:       summary,
			CompletedAt: done.CompletedAt,
		})
		if err != nil {
			return done, fmt.Errorf("record work history: %w", err)
		}
	}
	return done, nil
}

// Items returns the queue in the order stations were added.
func (q *Queue) Items() []models.WorkItem {
	q.mu.RLock()
	out := make([]models.WorkItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it)
	}
	q.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].StationID < out[j].StationID
	})
	return out
}

// Ordered returns the queue nearest-first from an operator location, with
// DistanceKm filled in.
func (q *Queue) Ordered(from orb.Point) []models.WorkItem {
	items := q.Items()
	for i := range items {
		d := DistanceKm(from, orb.Point{items[i].Longitude, items[i].Latitude})
		items[i].DistanceKm = &d
	}
	sort.SliceStable(items, func(i, j int) bool { return *items[i].DistanceKm < *items[j].DistanceKm })
	return items
}

// Completed returns stations finished within CompletedFor, most recent first.
func (q *Queue) Completed() []models.CompletedWork {
	q.mu.RLock()
	out := make([]models.CompletedWork, 0, len(q.completed))
	for _, d := range q.completed {
		if q.fresh(d) {
			out = append(out, d)
		}
	}
	q.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out
}

// IsQueued reports whether a station waits in the queue.
func (q *Queue) IsQueued(stationID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.items[stationID]
	return ok
}

// IsCompleted reports whether a station was finished within CompletedFor.
func (q *Queue) IsCompleted(stationID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	d, ok := q.completed[stationID]
	return ok && q.fresh(d)
}

func (q *Queue) fresh(d models.CompletedWork) bool {
	return q.now().Sub(d.CompletedAt) < CompletedFor
}

// DistanceKm is the great-circle distance between two lon/lat points.
func DistanceKm(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b) / 1000
}
