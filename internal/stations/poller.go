// Package stations polls the bike inventory and holds the current snapshot.
package stations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/metrics"
	"github.com/MADA-gnuBD/bikeops/models"
)

// Triggers accepted by Refresh
const (
	TriggerStartup = "startup"
	TriggerTimer   = "timer"
	TriggerManual  = "manual"
	TriggerForced  = "forced" // manual, skipping the throttle
)

var (
	// ErrRefreshThrottled is returned when manual refreshes come too fast
	ErrRefreshThrottled = errors.New("stations: refresh throttled")
	// ErrNoSnapshot is returned before the first successful poll
	ErrNoSnapshot = errors.New("stations: no snapshot yet")
)

// Source fetches the full station list
type Source interface {
	Stations(ctx context.Context) ([]models.Station, error)
}

// Sink persists published snapshots
type Sink interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
}

// Subscriber is called with every published snapshot
type Subscriber func(*models.Snapshot)

// Config controls polling cadence
type Config struct {
	Interval     time.Duration `koanf:"interval" validate:"gt=0"`
	ManualEvery  time.Duration `koanf:"manual_every" validate:"gt=0"`
	ManualBurst  int           `koanf:"manual_burst" validate:"gte=1"`
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
}

// DefaultConfig polls every minute and allows one manual refresh per 5s
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		ManualEvery:  5 * time.Second,
		ManualBurst:  1,
		FetchTimeout: 20 * time.Second,
	}
}

// Poller owns the current snapshot
type Poller struct {
	source  Source
	sink    Sink
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	fetchMu sync.Mutex // one fetch at a time; snapshots publish in order

	mu      sync.RWMutex
	current *models.Snapshot
	lastErr error

	subMu sync.Mutex
	subs  []Subscriber
}

// NewPoller creates a poller. sink may be nil.
func NewPoller(source Source, sink Sink, cfg Config) *Poller {
	return &Poller{
		source:  source,
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.ManualEvery), cfg.ManualBurst),
		now:     time.Now,
	}
}

// Subscribe registers fn for every future snapshot
func (p *Poller) Subscribe(fn Subscriber) {
	p.subMu.Lock()
	p.subs = append(p.subs, fn)
	p.subMu.Unlock()
}

// Refresh fetches the station list and replaces the snapshot wholesale.
// A fetch that finishes after ctx is cancelled publishes nothing.
func (p *Poller) Refresh(ctx context.Context, trigger string) (*models.Snapshot, error) {
	if trigger == TriggerManual && !p.limiter.Allow() {
		metrics.PollsTotal.WithLabelValues(trigger, "throttled").Inc()
		return nil, ErrRefreshThrottled
	}

	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	start := p.now()
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	list, err := p.source.Stations(fetchCtx)
	cancel()
	metrics.RecordPoll(trigger, p.now().Sub(start), len(list), err)

	if ctx.Err() != nil {
		logging.Debug().Str("trigger", trigger).Msg("poll discarded after cancellation")
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if err != nil {
		p.lastErr = err
		p.mu.Unlock()
		logging.Warn().Err(err).Str("trigger", trigger).Msg("station poll failed, keeping previous snapshot")
		return nil, fmt.Errorf("poll stations: %w", err)
	}
	snap := &models.Snapshot{
		ID:       uuid.New(),
		PolledAt: p.now().UTC(),
		Stations: list,
	}
	p.current = snap
	p.lastErr = nil
	p.mu.Unlock()

	logging.Info().
		Str("trigger", trigger).
		Int("stations", len(list)).
		Dur("duration", p.now().Sub(start)).
		Msg("station snapshot published")

	if p.sink != nil {
		if err := p.sink.SaveSnapshot(ctx, snap); err != nil {
			logging.Error().Err(err).Str("snapshot_id", snap.ID.String()).Msg("failed to persist snapshot")
		}
	}

	p.notify(snap)
	return snap, nil
}

func (p *Poller) notify(snap *models.Snapshot) {
	p.subMu.Lock()
	subs := append([]Subscriber(nil), p.subs...)
	p.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// Restore seeds the poller with a persisted snapshot so the console has
// data before the first poll. It is ignored once a poll has published.
func (p *Poller) Restore(snap *models.Snapshot) bool {
	if snap == nil {
		return false
	}
	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return false
	}
	p.current = snap
	p.mu.Unlock()

	logging.Info().
		Str("snapshot_id", snap.ID.String()).
		Int("stations", len(snap.Stations)).
		Time("polled_at", snap.PolledAt).
		Msg("restored persisted snapshot")

	p.notify(snap)
	return true
}

// Serve polls once at startup and then on every interval tick
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", p.cfg.Interval).Msg("station poller started")
	defer logging.Info().Msg("station poller stopped")

	p.Refresh(ctx, TriggerStartup)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Refresh(ctx, TriggerTimer)
		}
	}
}

func (p *Poller) String() string { return "station-poller" }

// Current returns the latest snapshot or ErrNoSnapshot
func (p *Poller) Current() (*models.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil, ErrNoSnapshot
	}
	return p.current, nil
}

// Station looks up one station in the current snapshot
func (p *Poller) Station(id string) (models.Station, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Find(id)
}

// Search returns stations whose name contains q, case-insensitively.
// An empty query returns every station.
func (p *Poller) Search(q string) ([]models.Station, error) {
	snap, err := p.Current()
	if err != nil {
		return nil, err
	}
	return snap.Search(q), nil
}

// Stats summarises the current snapshot
func (p *Poller) Stats() (models.StationStats, error) {
	snap, err := p.Current()
	if err != nil {
		return models.StationStats{}, err
	}
	stats := models.ComputeStats(snap.Stations)
	stats.PolledAt = snap.PolledAt
	return stats, nil
}

// Freshness reports snapshot age for the health endpoint
func (p *Poller) Freshness() models.DataFreshness {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f := models.DataFreshness{Status: models.FreshnessUnavailable}
	if p.lastErr != nil {
		f.LastError = p.lastErr.Error()
	}
	if p.current == nil {
		return f
	}
	polled := p.current.PolledAt
	age := p.now().Sub(polled)
	f.LastPolledAt = &polled
	f.AgeSeconds = int(age.Seconds())
	f.StationCount = len(p.current.Stations)
	f.Status = models.CalculateFreshnessStatus(age, p.cfg.Interval)
	return f
}
