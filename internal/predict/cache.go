// Package predict caches demand predictions in front of the backend's AI
// endpoints. Identical questions asked within the TTL are answered locally.
package predict

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bluele/gcache"

	"github.com/MADA-gnuBD/bikeops/internal/metrics"
	"github.com/MADA-gnuBD/bikeops/models"
)

// Predictor is the backend surface the cache wraps.
type Predictor interface {
	Predict(ctx context.Context, req models.PredictRequest) (models.Prediction, error)
	RangePredict(ctx context.Context, req models.RangePredictRequest) (models.RangePrediction, error)
	RebalancePlan(ctx context.Context, req models.RebalancePlanRequest) (models.RangePrediction, error)
}

// Config sizes the cache.
type Config struct {
	TTL  time.Duration `koanf:"ttl" validate:"gt=0"`
	Size int           `koanf:"size" validate:"gt=0"`
}

// DefaultConfig keeps 1024 answers for two minutes.
func DefaultConfig() Config {
	return Config{TTL: 2 * time.Minute, Size: 1024}
}

// Cache is a Predictor that remembers answers.
type Cache struct {
	next    Predictor
	entries gcache.Cache
}

// Option customises a Cache.
type Option func(*gcache.CacheBuilder)

// WithClock replaces the wall clock, for tests.
func WithClock(c gcache.Clock) Option {
	return func(b *gcache.CacheBuilder) { b.Clock(c) }
}

// New wraps next with an LRU cache.
func New(next Predictor, cfg Config, opts ...Option) *Cache {
	b := gcache.New(cfg.Size).LRU().Expiration(cfg.TTL)
	for _, opt := range opts {
		opt(b)
	}
	return &Cache{next: next, entries: b.Build()}
}

func (c *Cache) lookup(kind, key string) (any, bool) {
	v, err := c.entries.GetIFPresent(key)
	if err != nil {
		metrics.PredictionCache.WithLabelValues(kind, "miss").Inc()
		return nil, false
	}
	metrics.PredictionCache.WithLabelValues(kind, "hit").Inc()
	return v, true
}

// Predict answers a single-station prediction.
func (c *Cache) Predict(ctx context.Context, req models.PredictRequest) (models.Prediction, error) {
	key := fmt.Sprintf("single|%s|%d|%d", req.StationID, req.Minutes, req.Supply)
	if v, ok := c.lookup("single", key); ok {
		return v.(models.Prediction), nil
	}
	p, err := c.next.Predict(ctx, req)
	if err != nil {
		return models.Prediction{}, err
	}
	_ = c.entries.Set(key, p)
	return p, nil
}

// RangePredict answers a radius prediction. Centers are rounded to four
// decimals, about ten metres.
func (c *Cache) RangePredict(ctx context.Context, req models.RangePredictRequest) (models.RangePrediction, error) {
	key := fmt.Sprintf("range|%.4f|%.4f|%s|%d", req.Lat, req.Lng, radiusKey(req.Radius), req.Minutes)
	if v, ok := c.lookup("range", key); ok {
		return v.(models.RangePrediction), nil
	}
	p, err := c.next.RangePredict(ctx, req)
	if err != nil {
		return models.RangePrediction{}, err
	}
	_ = c.entries.Set(key, p)
	return p, nil
}

// RebalancePlan answers a plan request.
func (c *Cache) RebalancePlan(ctx context.Context, req models.RebalancePlanRequest) (models.RangePrediction, error) {
	key := fmt.Sprintf("plan|%.4f|%.4f|%s|%d|%s", req.Center.Lat, req.Center.Lon, radiusKey(req.Radius), req.Minutes, req.StationID)
	if v, ok := c.lookup("plan", key); ok {
		return v.(models.RangePrediction), nil
	}
	p, err := c.next.RebalancePlan(ctx, req)
	if err != nil {
		return models.RangePrediction{}, err
	}
	_ = c.entries.Set(key, p)
	return p, nil
}

// radiusKey keeps the radius exact; radii are not rounded like centers.
func radiusKey(r float64) string {
	return strconv.FormatFloat(r, 'g', -1, 64)
}

// Purge drops every cached answer. Called when a new station snapshot
// changes the supply the predictions were made for.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len(true)
}
