package workqueue

import (
	"fmt"
	"math"
	"sort"

	"github.com/MADA-gnuBD/bikeops/models"
)

// Marker statuses, highest priority first.
const (
	StatusCompleted = "completed"
	StatusEmpty     = "empty"
	StatusQueued    = "queued"
	StatusLow       = "low"
	StatusNormal    = "normal"
)

var statusColors = map[string]string{
	StatusCompleted: "#8B5CF6",
	StatusEmpty:     "#EF4444",
	StatusQueued:    "#F59E0B",
	StatusLow:       "#F59E0B",
	StatusNormal:    "#22C55E",
}

// Color returns the marker colour for a status.
func Color(status string) string {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return statusColors[StatusNormal]
}

// Status classifies a station for its map marker.
func (q *Queue) Status(s models.Station) string {
	switch {
	case q.IsCompleted(s.ID):
		return StatusCompleted
	case s.IsEmpty():
		return StatusEmpty
	case q.IsQueued(s.ID):
		return StatusQueued
	case s.IsLowStock():
		return StatusLow
	default:
		return StatusNormal
	}
}

// Priority lists the stations that need a visit: empty ones first, then
// low-stock ones, each group by bike count. Completed stations are left out.
func (q *Queue) Priority(stations []models.Station) []models.Station {
	var empty, low []models.Station
	for _, s := range stations {
		if q.IsCompleted(s.ID) {
			continue
		}
		switch {
		case s.IsEmpty():
			empty = append(empty, s)
		case s.IsLowStock():
			low = append(low, s)
		}
	}
	byBikes := func(list []models.Station) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Bikes != list[j].Bikes {
				return list[i].Bikes < list[j].Bikes
			}
			return list[i].ID < list[j].ID
		})
	}
	byBikes(empty)
	byBikes(low)
	return append(empty, low...)
}

// WorkDone describes the job finished at a station from its stock when the
// operator completed it.
func WorkDone(s models.Station) (action, notes string) {
	switch {
	case s.IsEmpty():
		return models.ActionRebalance, "emergency refill: restocked an empty station"
	case s.IsLowStock():
		return models.ActionRebalance, fmt.Sprintf("refill: restocked a low-stock station (current: %d)", s.Bikes)
	default:
		return models.ActionInspect, "inspection: checked and serviced the station"
	}
}

// Recommendation priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// DefaultRecommendations is how many stations Recommend returns by default.
const DefaultRecommendations = 5

// Recommend suggests the nearest low-stock stations to visit after from.
// from itself is never suggested.
func Recommend(from models.Station, stations []models.Station, limit int) []models.Recommendation {
	if limit <= 0 {
		limit = DefaultRecommendations
	}
	origin := from.Point()

	var recs []models.Recommendation
	for _, s := range stations {
		if s.ID == from.ID || !s.IsLowStock() {
			continue
		}
		recs = append(recs, models.Recommendation{
			Station:    s,
			DistanceKm: DistanceKm(origin, s.Point()),
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].DistanceKm < recs[j].DistanceKm })
	if len(recs) > limit {
		recs = recs[:limit]
	}

	for i := range recs {
		switch {
		case i == 0:
			recs[i].Priority = PriorityHigh
		case i < 3:
			recs[i].Priority = PriorityMedium
		default:
			recs[i].Priority = PriorityLow
		}
		recs[i].EstimatedMinutes = int(math.Round(recs[i].DistanceKm * 10))
		recs[i].Reason = reason(recs[i].Station.Bikes)
	}
	return recs
}

func reason(bikes int) string {
	switch {
	case bikes == 0:
		return "urgent: no bikes"
	case bikes <= 2:
		return "high: almost empty"
	default:
		return "normal: low stock"
	}
}
