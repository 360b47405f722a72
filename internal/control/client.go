package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swarmbot-go/internal/lists"
	"swarmbot-go/internal/orchestrator"
	"swarmbot-go/internal/safety"
)

// Client talks to a running control API.
type Client struct {
	Base string
	Http *http.Client
}

// NewClient talks to the control API at base.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	return &Client{Base: strings.TrimRight(base, "/"), Http: &http.Client{Timeout: timeout}}
}

// APIError is a non-2xx reply.
type APIError struct {
	Code    int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control api %d (%s): %s", e.Code, e.Kind, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return &APIError{Code: resp.StatusCode, Kind: er.Kind, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Strategies lists every registered strategy.
func (c *Client) Strategies(ctx context.Context) ([]orchestrator.Strategy, error) {
	var out []orchestrator.Strategy
	err := c.do(ctx, http.MethodGet, "/strategies", nil, &out)
	return out, err
}

// Act posts start, stop, pause or pumplist for a strategy.
func (c *Client) Act(ctx context.Context, id, action string) (ActionResponse, error) {
	var out ActionResponse
	err := c.do(ctx, http.MethodPost, "/strategies/"+url.PathEscape(id)+"/"+action, nil, &out)
	return out, err
}

// List returns the active entries of list.
func (c *Client) List(ctx context.Context, list string) ([]lists.Entry, error) {
	var out []lists.Entry
	err := c.do(ctx, http.MethodGet, "/lists/"+url.PathEscape(list), nil, &out)
	return out, err
}

// AddToList adds or refreshes an entry on list.
func (c *Client) AddToList(ctx context.Context, list string, req AddRequest) (lists.Entry, error) {
	var out lists.Entry
	err := c.do(ctx, http.MethodPost, "/lists/"+url.PathEscape(list), req, &out)
	return out, err
}

// SetListStatus activates or deactivates identifier on list.
func (c *Client) SetListStatus(ctx context.Context, list, identifier string, active bool) (lists.Entry, error) {
	var out lists.Entry
	path := "/lists/" + url.PathEscape(list) + "/" + url.PathEscape(identifier) + "/status"
	err := c.do(ctx, http.MethodPost, path, StatusRequest{Active: active}, &out)
	return out, err
}

// Safety returns the circuit breaker state.
func (c *Client) Safety(ctx context.Context) (safety.BreakerState, error) {
	var out safety.BreakerState
	err := c.do(ctx, http.MethodGet, "/safety", nil, &out)
	return out, err
}

// ResetSafety clears a tripped breaker and reports whether it was tripped.
func (c *Client) ResetSafety(ctx context.Context) (bool, error) {
	var out ResetResponse
	err := c.do(ctx, http.MethodPost, "/safety/reset", nil, &out)
	return out.Reset, err
}
