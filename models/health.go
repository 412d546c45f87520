package models

import "time"

// HealthStatus constants
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// FreshnessStatus constants
const (
	FreshnessFresh       = "fresh"       // within two poll intervals
	FreshnessStale       = "stale"       // within five poll intervals
	FreshnessUnavailable = "unavailable" // older, or never polled
)

// DataFreshness describes how recent the station snapshot is
type DataFreshness struct {
	LastPolledAt *time.Time `json:"lastPolledAt"`
	AgeSeconds   int        `json:"ageSeconds"`
	Status       string     `json:"status"`
	StationCount int        `json:"stationCount"`
	LastError    string     `json:"lastError,omitempty"`
}

// HealthResponse is the JSON body of GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Stations  DataFreshness     `json:"stations"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// CalculateFreshnessStatus returns the freshness status for a snapshot age
// relative to the poll interval
func CalculateFreshnessStatus(age, interval time.Duration) string {
	if age < 0 || interval <= 0 {
		return FreshnessUnavailable
	}
	if age <= 2*interval {
		return FreshnessFresh
	}
	if age <= 5*interval {
		return FreshnessStale
	}
	return FreshnessUnavailable
}
