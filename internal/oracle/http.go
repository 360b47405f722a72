package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"swarmbot-go/internal/signal"
)

// HTTPOracle posts the feature vector to a remote model service.
type HTTPOracle struct {
	URL  string
	Http *http.Client
}

// NewHTTPOracle posts features to url; timeout bounds each call.
func NewHTTPOracle(url string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPOracle{URL: url, Http: &http.Client{Timeout: timeout}}
}

type decideRequest struct {
	Symbol   string             `json:"symbol"`
	Ts       time.Time          `json:"ts"`
	Features map[string]float64 `json:"features"`
}

type decideResponse struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// Decide posts features and decodes the returned action and confidence.
func (o *HTTPOracle) Decide(ctx context.Context, features signal.Features) (signal.Decision, error) {
	body, err := json.Marshal(decideRequest{Symbol: features.Symbol, Ts: features.Ts, Features: features.Values})
	if err != nil {
		return signal.Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return signal.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.Http.Do(req)
	if err != nil {
		return signal.Decision{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return signal.Decision{}, fmt.Errorf("oracle status %d", resp.StatusCode)
	}
	var out decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return signal.Decision{}, fmt.Errorf("decode oracle response: %w", err)
	}
	conf := out.Confidence
	if math.IsNaN(conf) {
		conf = 0
	}
	return signal.Decision{Action: signal.ParseAction(out.Action), Confidence: math.Max(0, math.Min(1, conf))}, nil
}
