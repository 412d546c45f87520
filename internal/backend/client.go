// Package backend is the HTTP client for the external operations backend:
// bike inventory, users, the AI predictor, the community board and work
// history. It shapes requests and normalizes responses and holds no
// business logic of its own.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/metrics"
)

const maxBodyBytes = 8 << 20

// Config configures the backend client.
type Config struct {
	BaseURL         string        `koanf:"base_url" validate:"required,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gt=0"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// DefaultConfig points at a backend on localhost:8080.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         15 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

type tokenKey struct{}

// WithToken returns a context whose backend calls carry the bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token carried by ctx, or "".
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// Client calls the backend through a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[response]

	mu           sync.RWMutex
	unauthorized []func(ctx context.Context)
}

type response struct {
	status int
	body   []byte
}

// New creates a client for cfg.
func New(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// client errors mean the backend is up
			var be *Error
			if errors.As(err, &be) {
				return be.Code != CodeUnavailable && be.Code != CodeNetwork
			}
			return err == nil
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("backend circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("backend").Set(0)
	return c
}

// OnUnauthorized registers fn to run whenever the backend answers 401. The
// context is the one of the failing call, so fn can find the session it
// was made for.
func (c *Client) OnUnauthorized(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unauthorized = append(c.unauthorized, fn)
}

// BreakerState reports the circuit breaker state for /health.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// call describes one request.
type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

func (c *Client) do(ctx context.Context, req call, out any) error {
	start := time.Now()
	resp, err := c.breaker.Execute(func() (response, error) {
		return c.send(ctx, req)
	})
	metrics.RecordBackendRequest(req.op, resp.status, time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &Error{Op: req.op, Code: CodeUnavailable, Message: "backend temporarily unavailable", Cause: err}
		}
		if errors.Is(err, ErrUnauthorized) {
			c.fireUnauthorized(ctx)
		}
		return err
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &Error{Op: req.op, Status: resp.status, Code: CodeDecode, Message: "unexpected response from backend", Cause: err}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req call) (response, error) {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return response{}, fmt.Errorf("failed to encode %s request: %w", req.op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return response{}, fmt.Errorf("failed to create %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if tok := TokenFromContext(ctx); tok != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, ctx.Err()
		}
		return response{}, &Error{Op: req.op, Code: CodeNetwork, Message: "cannot reach backend", Cause: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return response{status: httpResp.StatusCode}, &Error{Op: req.op, Status: httpResp.StatusCode, Code: CodeNetwork, Message: "failed to read backend response", Cause: err}
	}
	resp := response{status: httpResp.StatusCode, body: raw}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, statusError(req.op, httpResp.StatusCode, raw)
	}
	return resp, nil
}

// statusError builds an *Error from a non-2xx response, preferring the
// backend's own "error" or "message" field.
func statusError(op string, status int, body []byte) *Error {
	code, msg := codeForStatus(status)
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			msg = payload.Error
		case payload.Message != "":
			msg = payload.Message
		}
	}
	raw := string(body)
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return &Error{Op: op, Status: status, Code: code, Message: msg, Body: raw}
}

func (c *Client) fireUnauthorized(ctx context.Context) {
	c.mu.RLock()
	hooks := c.unauthorized
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}
