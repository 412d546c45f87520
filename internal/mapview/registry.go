package mapview

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MADA-gnuBD/bikeops/internal/layout"
	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/metrics"
	"github.com/MADA-gnuBD/bikeops/models"
)

// Config controls view lifetime.
type Config struct {
	IdleTTL       time.Duration `koanf:"idle_ttl" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	MaxViews      int           `koanf:"max_views" validate:"gt=0"`
}

// DefaultConfig keeps idle views for half an hour.
func DefaultConfig() Config {
	return Config{IdleTTL: 30 * time.Minute, SweepInterval: time.Minute, MaxViews: 1000}
}

// Registry holds every live map view and fans station snapshots out to them.
type Registry struct {
	cfg    Config
	engine *layout.Engine

	mu        sync.RWMutex
	views     map[string]*View
	stations  []models.Station
	status    StatusFunc
	listeners []func(State)
}

// NewRegistry creates an empty registry.
func NewRegistry(engine *layout.Engine, cfg Config) *Registry {
	return &Registry{
		cfg:    cfg,
		engine: engine,
		views:  make(map[string]*View),
	}
}

// SetStatusFunc installs the marker classifier used for overlay content.
// Call it before creating views.
func (r *Registry) SetStatusFunc(fn StatusFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = fn
}

// OnLayout registers a listener called after every layout run of any view.
func (r *Registry) OnLayout(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify(st State) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// Create starts a new view seeded with the current station set.
func (r *Registry) Create(owner string) *View {
	r.mu.Lock()
	if len(r.views) >= r.cfg.MaxViews {
		r.evictOldestLocked()
	}
	v := newView(uuid.NewString(), owner, r.engine, r.status, r.notify)
	v.loadStations(r.stations)
	r.views[v.id] = v
	metrics.ViewsActive.Set(float64(len(r.views)))
	r.mu.Unlock()

	logging.Debug().Str("view", v.id).Str("owner", owner).Msg("map view created")
	return v
}

// Get returns a view by id.
func (r *Registry) Get(id string) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	return v, nil
}

// Delete drops a view.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[id]; !ok {
		return false
	}
	delete(r.views, id)
	metrics.ViewsActive.Set(float64(len(r.views)))
	return true
}

// DeleteOwnedBy drops every view created by a session. Used as a session
// teardown hook.
func (r *Registry) DeleteOwnedBy(owner string) int {
	if owner == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, v := range r.views {
		if v.owner == owner {
			delete(r.views, id)
			n++
		}
	}
	metrics.ViewsActive.Set(float64(len(r.views)))
	return n
}

// Len returns the number of live views.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// ApplySnapshot replaces the station set of every view.
func (r *Registry) ApplySnapshot(snap *models.Snapshot) {
	if snap == nil {
		return
	}
	r.mu.Lock()
	r.stations = snap.Stations
	views := r.snapshotViewsLocked()
	r.mu.Unlock()

	for _, v := range views {
		v.ReplaceStations(snap.Stations)
	}
}

// RefreshStatus re-classifies overlays in every view.
func (r *Registry) RefreshStatus() {
	r.mu.RLock()
	views := r.snapshotViewsLocked()
	r.mu.RUnlock()
	for _, v := range views {
		v.RefreshStatus()
	}
}

func (r *Registry) snapshotViewsLocked() []*View {
	views := make([]*View, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	return views
}

func (r *Registry) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, v := range r.views {
		t := v.idleSince()
		if oldestID == "" || t.Before(oldest) {
			oldestID, oldest = id, t
		}
	}
	if oldestID != "" {
		delete(r.views, oldestID)
	}
}

// Sweep drops views untouched since before now minus the idle TTL.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, v := range r.views {
		if v.idleSince().Before(cutoff) {
			delete(r.views, id)
			n++
		}
	}
	metrics.ViewsActive.Set(float64(len(r.views)))
	return n
}

// Serve sweeps idle views until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				logging.Info().Int("evicted", n).Int("remaining", r.Len()).Msg("idle map views evicted")
			}
		}
	}
}

func (r *Registry) String() string { return "map-view-janitor" }
