package models

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// LowStockThreshold is the bike count at or below which a station needs rebalancing
const LowStockThreshold = 3

// Station is one bike-rental station from the inventory feed
// Immutable once published in a snapshot
type Station struct {
	ID        string  `db:"station_id" json:"stationId"`
	Name      string  `db:"station_name" json:"stationName"`
	Bikes     int     `db:"bikes" json:"parkingBikeTotCnt"`
	Racks     int     `db:"racks" json:"rackTotCnt"`
	Latitude  float64 `db:"latitude" json:"stationLatitude"`
	Longitude float64 `db:"longitude" json:"stationLongitude"`
	Shared    int     `db:"shared" json:"shared"`
}

// Point returns the station position as lon/lat
func (s Station) Point() orb.Point {
	return orb.Point{s.Longitude, s.Latitude}
}

// IsEmpty reports whether no bikes are parked
func (s Station) IsEmpty() bool {
	return s.Bikes == 0
}

// IsLowStock reports whether the station is at or below the low stock threshold
func (s Station) IsLowStock() bool {
	return s.Bikes <= LowStockThreshold
}

// Validate checks if the Station has usable data
func (s *Station) Validate() error {
	if s.ID == "" {
		return errors.New("stationId is required")
	}

	if !isFinite(s.Latitude) || !isFinite(s.Longitude) {
		return errors.New("coordinates must be finite numbers")
	}

	if s.Latitude < -90 || s.Latitude > 90 {
		return errors.New("latitude out of range: must be between -90 and 90")
	}

	if s.Longitude < -180 || s.Longitude > 180 {
		return errors.New("longitude out of range: must be between -180 and 180")
	}

	if s.Bikes < 0 {
		return errors.New("parkingBikeTotCnt must not be negative")
	}

	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Snapshot is the full station set returned by one poll
type Snapshot struct {
	ID       uuid.UUID `json:"snapshotId"`
	PolledAt time.Time `json:"polledAt"`
	Stations []Station `json:"stations"`
}

// Find returns the station with the given id
func (s *Snapshot) Find(id string) (Station, bool) {
	if s == nil {
		return Station{}, false
	}
	for _, st := range s.Stations {
		if st.ID == id {
			return st, true
		}
	}
	return Station{}, false
}

// Search returns stations whose name contains q, case-insensitively, sorted
// by name. An empty query returns every station in feed order.
func (s *Snapshot) Search(q string) []Station {
	if s == nil {
		return nil
	}
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return s.Stations
	}
	var out []Station
	for _, st := range s.Stations {
		if strings.Contains(strings.ToLower(st.Name), q) {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StationStats summarises a snapshot for the dashboard header
type StationStats struct {
	TotalStations     int       `json:"totalStations"`
	TotalBikes        int       `json:"totalBikes"`
	AvailableStations int       `json:"availableStations"` // stations with at least one bike
	EmptyStations     int       `json:"emptyStations"`
	LowStockStations  int       `json:"lowStockStations"`
	PolledAt          time.Time `json:"polledAt"`
}

// ComputeStats aggregates bike counts across stations
func ComputeStats(stations []Station) StationStats {
	var stats StationStats
	stats.TotalStations = len(stations)
	for _, s := range stations {
		stats.TotalBikes += s.Bikes
		if s.Bikes > 0 {
			stats.AvailableStations++
		}
		if s.IsEmpty() {
			stats.EmptyStations++
		}
		if s.IsLowStock() {
			stats.LowStockStations++
		}
	}
	return stats
}

// StationHistoryPoint is one historical bike count for a station
type StationHistoryPoint struct {
	SnapshotID uuid.UUID `db:"snapshot_id" json:"snapshotId"`
	Bikes      int       `db:"bikes" json:"bikes"`
	Racks      int       `db:"racks" json:"racks"`
	PolledAt   time.Time `db:"polled_at" json:"polledAt"`
}
