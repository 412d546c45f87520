package backend

import (
	"bytes"
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/models"
)

// Predict asks for the demand change of one station over the next minutes.
func (c *Client) Predict(ctx context.Context, req models.PredictRequest) (models.Prediction, error) {
	var w struct {
		PredictedDemand flexNumber `json:"predicted_demand"`
	}
	if err := c.do(ctx, call{op: "predict", method: http.MethodPost, path: "/api/ai/predict", body: req}, &w); err != nil {
		return models.Prediction{}, err
	}
	if !w.PredictedDemand.Valid {
		return models.Prediction{}, &Error{Op: "predict", Status: http.StatusOK, Code: CodeDecode, Message: "prediction missing predicted_demand"}
	}
	return models.Prediction{
		StationID:       req.StationID,
		Minutes:         req.Minutes,
		PredictedDemand: w.PredictedDemand.Value,
	}, nil
}

// RangePredict predicts every station within a radius, with an optional
// rebalancing plan.
func (c *Client) RangePredict(ctx context.Context, req models.RangePredictRequest) (models.RangePrediction, error) {
	var raw json.RawMessage
	if err := c.do(ctx, call{op: "range_predict", method: http.MethodPost, path: "/api/ai/range-predict", body: req}, &raw); err != nil {
		return models.RangePrediction{}, err
	}
	out, err := DecodeRangePrediction(raw)
	if err != nil {
		return models.RangePrediction{}, &Error{Op: "range_predict", Status: http.StatusOK, Code: CodeDecode, Message: "unexpected prediction payload", Cause: err}
	}
	return out, nil
}

// RebalancePlan asks for a rebalancing plan around a center. The backend
// answers in the same shape as RangePredict.
func (c *Client) RebalancePlan(ctx context.Context, req models.RebalancePlanRequest) (models.RangePrediction, error) {
	var raw json.RawMessage
	if err := c.do(ctx, call{op: "rebalance_plan", method: http.MethodPost, path: "/api/ai/rebalance-plan", body: req}, &raw); err != nil {
		return models.RangePrediction{}, err
	}
	out, err := DecodeRangePrediction(raw)
	if err != nil {
		return models.RangePrediction{}, &Error{Op: "rebalance_plan", Status: http.StatusOK, Code: CodeDecode, Message: "unexpected plan payload", Cause: err}
	}
	return out, nil
}

type wirePrediction struct {
	ID              flexString `json:"id"`
	StationID       flexString `json:"station_id"`
	StationIDCamel  flexString `json:"stationId"`
	PredictedDemand flexNumber `json:"predicted_demand"`
}

type wireMove struct {
	From      flexString `json:"from"`
	To        flexString `json:"to"`
	MoveCount flexNumber `json:"move_count"`
	Distance  flexNumber `json:"distance"`
}

// DecodeRangePrediction normalizes the range prediction payload: either a
// bare array of predictions or an object with a "result" array, each entry
// keyed by id or station_id, plus an optional rebalancing_plan.
func DecodeRangePrediction(body []byte) (models.RangePrediction, error) {
	var rows []wirePrediction
	var moves []wireMove

	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return models.RangePrediction{}, err
		}
	default:
		var wrapped struct {
			Result          []wirePrediction `json:"result"`
			Predictions     []wirePrediction `json:"predictions"`
			RebalancingPlan []wireMove       `json:"rebalancing_plan"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return models.RangePrediction{}, err
		}
		rows = wrapped.Result
		if len(rows) == 0 {
			rows = wrapped.Predictions
		}
		moves = wrapped.RebalancingPlan
	}

	out := models.RangePrediction{Predictions: make([]models.StationPrediction, 0, len(rows))}
	for _, r := range rows {
		id := string(r.ID)
		if id == "" {
			id = string(r.StationID)
		}
		if id == "" {
			id = string(r.StationIDCamel)
		}
		if id == "" || !r.PredictedDemand.Valid {
			continue
		}
		out.Predictions = append(out.Predictions, models.StationPrediction{
			StationID:       id,
			PredictedDemand: r.PredictedDemand.Value,
		})
	}
	for _, m := range moves {
		if m.From == "" || m.To == "" {
			continue
		}
		out.Plan = append(out.Plan, models.RebalanceMove{
			From:      string(m.From),
			To:        string(m.To),
			MoveCount: m.MoveCount.Int(),
			Distance:  m.Distance.Value,
		})
	}
	return out, nil
}
