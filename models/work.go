package models

import "time"

// Work history actions
const (
	ActionRebalance = "rebalance"
	ActionRepair    = "repair"
	ActionInspect   = "inspect"
)

// WorkHistory is one completed job recorded by the backend
type WorkHistory struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	StationName string    `json:"stationName"`
	StationID   string    `json:"stationId"`
	Action      string    `json:"action"`
	Notes       string    `json:"notes"`
	CompletedAt time.Time `json:"completedAt"`
}

// WorkHistoryInput is the body forwarded to POST /api/work-history
type WorkHistoryInput struct {
	UserID      string    `json:"userId"`
	StationName string    `json:"stationName" validate:"required"`
	StationID   string    `json:"stationId" validate:"required"`
	Action      string    `json:"action" validate:"required,oneof=rebalance repair inspect"`
	Notes       string    `json:"notes" validate:"max=1000"`
	CompletedAt time.Time `json:"completedAt"`
}

// WorkHistoryQuery filters the work history listing
type WorkHistoryQuery struct {
	UserID string
	Date   string // YYYY-MM-DD
}

// WorkCount is the backend's count of today's completed jobs
type WorkCount struct {
	Count int `json:"count"`
}

// WorkItem is a station waiting in the rebalancing queue
type WorkItem struct {
	StationID   string    `db:"station_id" json:"stationId"`
	StationName string    `db:"station_name" json:"stationName"`
	Latitude    float64   `db:"latitude" json:"latitude"`
	Longitude   float64   `db:"longitude" json:"longitude"`
	QueuedBy    string    `db:"queued_by" json:"queuedBy,omitempty"`
	QueuedAt    time.Time `db:"queued_at" json:"queuedAt"`
	// DistanceKm is filled when the queue is ordered from an operator location
	DistanceKm *float64 `db:"-" json:"distanceKm,omitempty"`
}

// CompletedWork marks a station whose rebalancing is done
type CompletedWork struct {
	StationID   string    `db:"station_id" json:"stationId"`
	CompletedBy string    `db:"completed_by" json:"completedBy"`
	CompletedAt time.Time `db:"completed_at" json:"completedAt"`
}

// Recommendation is a nearby low-stock station suggested as the next stop
type Recommendation struct {
	Station          Station `json:"station"`
	DistanceKm       float64 `json:"distanceKm"`
	Priority         string  `json:"priority"` // "high", "medium", "low"
	EstimatedMinutes int     `json:"estimatedMinutes"`
	Reason           string  `json:"reason"`
}
