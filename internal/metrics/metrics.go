// Package metrics holds the Prometheus collectors of the console service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bikeops_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Station polling
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeops_station_polls_total",
			Help: "Station inventory polls by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bikeops_station_poll_duration_seconds",
			Help:    "Duration of station inventory polls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)

	StationsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bikeops_stations_current",
			Help: "Stations in the current snapshot",
		},
	)

	// Overlay layout
	LayoutRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeops_layout_runs_total",
			Help: "Overlay layout runs by trigger",
		},
		[]string{"trigger"},
	)

	LayoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bikeops_layout_duration_seconds",
			Help:    "Duration of overlay layout runs",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	LayoutFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bikeops_layout_fallbacks_total",
			Help: "Overlays placed on the fallback slot because every candidate collided",
		},
	)

	ViewsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bikeops_map_views_active",
			Help: "Map views currently held in memory",
		},
	)

	// Backend
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeops_backend_requests_total",
			Help: "Calls to the external backend by operation and status",
		},
		[]string{"op", "status"},
	)

	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bikeops_backend_request_duration_seconds",
			Help:    "Duration of calls to the external backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bikeops_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Prediction cache
	PredictionCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeops_prediction_cache_total",
			Help: "Prediction cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Sessions
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeops_sessions_ended_total",
			Help: "Sessions ended by reason",
		},
		[]string{"reason"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bikeops_websocket_connections",
			Help: "Open WebSocket connections",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bikeops_websocket_messages_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)
)

// RecordPoll records one station poll.
func RecordPoll(trigger string, duration time.Duration, stations int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	PollsTotal.WithLabelValues(trigger, result).Inc()
	PollDuration.Observe(duration.Seconds())
	if err == nil {
		StationsCurrent.Set(float64(stations))
	}
}

// RecordLayout records one layout run.
func RecordLayout(trigger string, duration time.Duration, fallbacks int) {
	LayoutRuns.WithLabelValues(trigger).Inc()
	LayoutDuration.Observe(duration.Seconds())
	if fallbacks > 0 {
		LayoutFallbacks.Add(float64(fallbacks))
	}
}

// RecordBackendRequest records one backend call. Status 0 means the call
// never got a response.
func RecordBackendRequest(op string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	BackendRequests.WithLabelValues(op, label).Inc()
	BackendDuration.WithLabelValues(op).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes the connection through for WebSocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware records request durations labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		APIRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
