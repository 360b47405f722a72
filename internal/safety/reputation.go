package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verdict is the answer of an external token reputation service.
type Verdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
}

// Reputation looks up whether an asset is safe to trade.
type Reputation interface {
	Lookup(ctx context.Context, asset string) (Verdict, error)
}

// HTTPReputation queries GET {Base}/tokens/{asset}.
type HTTPReputation struct {
	Base string
	Http *http.Client
}

// NewHTTPReputation queries the reputation service at base.
func NewHTTPReputation(base string, timeout time.Duration) *HTTPReputation {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPReputation{
		Base: strings.TrimRight(base, "/"),
		Http: &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the verdict for asset.
func (r *HTTPReputation) Lookup(ctx context.Context, asset string) (Verdict, error) {
	u := r.Base + "/tokens/" + url.PathEscape(asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Verdict{}, err
	}
	resp, err := r.Http.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("reputation status %d", resp.StatusCode)
	}
	var out Verdict
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("decode reputation: %w", err)
	}
	return out, nil
}
