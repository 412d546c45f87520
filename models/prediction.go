package models

import (
	"errors"
	"math"
)

// PredictRequest is the body of a single-station demand prediction
type PredictRequest struct {
	StationID string `json:"stationId" validate:"required"`
	Minutes   int    `json:"minutes" validate:"gt=0,lte=1440"`
	Supply    int    `json:"supply" validate:"gte=0"`
}

// Prediction is the predicted demand for one station
type Prediction struct {
	StationID       string  `json:"stationId"`
	Minutes         int     `json:"minutes"`
	PredictedDemand float64 `json:"predicted_demand"`
}

// Delta returns the predicted change in bikes rounded to the nearest bike
func (p Prediction) Delta() int {
	return int(math.Round(p.PredictedDemand))
}

// ExpectedFinalStock is the bike count after the predicted delta, never below zero
func ExpectedFinalStock(current, delta int) int {
	if final := current + delta; final > 0 {
		return final
	}
	return 0
}

// RangePredictRequest asks for predictions of every station within a radius
type RangePredictRequest struct {
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `json:"lng" validate:"gte=-180,lte=180"`
	Radius  float64 `json:"radius" validate:"gt=0"`
	Minutes int     `json:"minutes" validate:"gt=0,lte=1440"`
}

// Validate checks the request ranges
func (r *RangePredictRequest) Validate() error {
	if r.Radius <= 0 {
		return errors.New("radius must be positive")
	}
	if r.Minutes <= 0 {
		return errors.New("minutes must be positive")
	}
	return nil
}

// StationPrediction is one entry of a range prediction
type StationPrediction struct {
	StationID       string  `json:"stationId"`
	PredictedDemand float64 `json:"predicted_demand"`
}

// RebalanceMove moves bikes from one station to another
type RebalanceMove struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	MoveCount int     `json:"move_count"`
	Distance  float64 `json:"distance"`
}

// RangePrediction is the normalized range prediction result
type RangePrediction struct {
	Predictions []StationPrediction `json:"predictions"`
	Plan        []RebalanceMove     `json:"rebalancing_plan,omitempty"`
}

// GeoCenter is a lat/lon pair as the rebalance endpoint expects it
type GeoCenter struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// RebalancePlanRequest asks for a rebalancing plan around a center
type RebalancePlanRequest struct {
	Center    GeoCenter `json:"center"`
	Radius    float64   `json:"radius" validate:"gt=0"`
	Minutes   int       `json:"minutes" validate:"gt=0,lte=1440"`
	StationID string    `json:"station_id,omitempty"`
}
