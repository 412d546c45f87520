package backend

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/models"
)

// ListWorkHistory returns completed jobs, optionally for one user and day.
func (c *Client) ListWorkHistory(ctx context.Context, q models.WorkHistoryQuery) ([]models.WorkHistory, error) {
	v := url.Values{}
	if q.UserID != "" {
		v.Set("userId", q.UserID)
	}
	if q.Date != "" {
		v.Set("date", q.Date)
	}
	var out []models.WorkHistory
	err := c.do(ctx, call{op: "list_work_history", method: http.MethodGet, path: "/api/work-history", query: v}, &out)
	return out, err
}

// CreateWorkHistory records a completed job.
func (c *Client) CreateWorkHistory(ctx context.Context, in models.WorkHistoryInput) (models.WorkHistory, error) {
	var out models.WorkHistory
	err := c.do(ctx, call{op: "create_work_history", method: http.MethodPost, path: "/api/work-history", body: in}, &out)
	return out, err
}

// DeleteWorkHistory removes a job record.
func (c *Client) DeleteWorkHistory(ctx context.Context, id string) error {
	return c.do(ctx, call{op: "delete_work_history", method: http.MethodDelete, path: "/api/work-history/" + url.PathEscape(id)}, nil)
}

// TodayWorkCount returns how many jobs were completed today. The backend
// answers with a bare number or {"count": n}.
func (c *Client) TodayWorkCount(ctx context.Context) (models.WorkCount, error) {
	var raw json.RawMessage
	if err := c.do(ctx, call{op: "work_count_today", method: http.MethodGet, path: "/api/work-history/count/today"}, &raw); err != nil {
		return models.WorkCount{}, err
	}

	var n flexNumber
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			Count flexNumber `json:"count"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return models.WorkCount{}, &Error{Op: "work_count_today", Status: http.StatusOK, Code: CodeDecode, Message: "unexpected count payload", Cause: err}
		}
		n = obj.Count
	} else if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return models.WorkCount{}, &Error{Op: "work_count_today", Status: http.StatusOK, Code: CodeDecode, Message: "unexpected count payload", Cause: err}
		}
	}
	return models.WorkCount{Count: n.Int()}, nil
}
