package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

const (
	defaultDexScreenerBaseURL = "https://api.dexscreener.com"
	// dexScreenerBatch is the most pair addresses the pairs endpoint accepts per request.
	dexScreenerBatch = 30
)

// DexScreenerClient is the shared Dexscreener HTTP client. Feed polling, discovery and pool
// lookups draw from one request budget.
type DexScreenerClient struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	retries int
}

// NewDexScreenerClient allows perMinute requests per minute (300 when non-positive).
func NewDexScreenerClient(base string, perMinute int) *DexScreenerClient {
	if base == "" {
		base = defaultDexScreenerBaseURL
	}
	if perMinute <= 0 {
		perMinute = 300
	}
	return &DexScreenerClient{
		base:    strings.TrimSuffix(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), max(1, perMinute/60)),
		retries: 3,
	}
}

// HTTPStatusError is a non-200 Dexscreener reply.
type HTTPStatusError struct {
	Path string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("dexscreener %s: status %d", e.Path, e.Code)
}

func (c *DexScreenerClient) get(ctx context.Context, path string) (*pairsResponse, error) {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, err := c.fetch(ctx, path)
		var se *HTTPStatusError
		if err == nil || !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || attempt >= c.retries {
			return out, err
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *DexScreenerClient) fetch(ctx context.Context, path string) (*pairsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "swarmbot-go/1.0")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{Path: path, Code: resp.StatusCode}
	}
	var payload pairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &payload, nil
}

// Pairs fetches pairs on chain by pair address, batching addresses into as few requests as allowed.
func (c *DexScreenerClient) Pairs(ctx context.Context, chain string, addresses []string) ([]Pair, error) {
	var out []Pair
	for start := 0; start < len(addresses); start += dexScreenerBatch {
		end := min(start+dexScreenerBatch, len(addresses))
		escaped := make([]string, 0, end-start)
		for _, a := range addresses[start:end] {
			escaped = append(escaped, url.PathEscape(a))
		}
		resp, err := c.get(ctx, fmt.Sprintf("/latest/dex/pairs/%s/%s", url.PathEscape(chain), strings.Join(escaped, ",")))
		if err != nil {
			return out, err
		}
		out = append(out, resp.all()...)
	}
	return out, nil
}

// TokenPairs lists every pool trading token.
func (c *DexScreenerClient) TokenPairs(ctx context.Context, token string) ([]Pair, error) {
	resp, err := c.get(ctx, "/latest/dex/tokens/"+url.PathEscape(token))
	if err != nil {
		return nil, err
	}
	return resp.all(), nil
}

// Search runs a free-text pair search.
func (c *DexScreenerClient) Search(ctx context.Context, query string) ([]Pair, error) {
	resp, err := c.get(ctx, "/latest/dex/search?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	return resp.all(), nil
}

type pairsResponse struct {
	Pairs []Pair `json:"pairs"`
	Pair  *Pair  `json:"pair"`
}

func (r *pairsResponse) all() []Pair {
	if len(r.Pairs) > 0 {
		return r.Pairs
	}
	if r.Pair != nil {
		return []Pair{*r.Pair}
	}
	return nil
}

// Pair is the subset of a Dexscreener pair the bot reads.
type Pair struct {
	ChainID     string           `json:"chainId"`
	PairAddress string           `json:"pairAddress"`
	BaseToken   PairToken        `json:"baseToken"`
	QuoteToken  PairToken        `json:"quoteToken"`
	PriceUsd    string           `json:"priceUsd"`
	PriceNative string           `json:"priceNative"`
	Txns        Windows[Txn]     `json:"txns"`
	Volume      Windows[float64] `json:"volume"`
	PriceChange Windows[float64] `json:"priceChange"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// PairToken is one side of a pair.
type PairToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Windows holds a statistic over Dexscreener's rolling windows.
type Windows[T any] struct {
	M5  T `json:"m5"`
	H1  T `json:"h1"`
	H6  T `json:"h6"`
	H24 T `json:"h24"`
}

// Txn counts buys and sells in one window.
type Txn struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Total is buys plus sells.
func (t Txn) Total() int { return t.Buys + t.Sells }

// Price prefers the USD quote and falls back to the native one.
func (p *Pair) Price() (float64, error) {
	for _, raw := range []string{p.PriceUsd, p.PriceNative} {
		if raw == "" {
			continue
		}
		if px, err := strconv.ParseFloat(raw, 64); err == nil && px > 0 {
			return px, nil
		}
	}
	return 0, fmt.Errorf("pair %s has no price", p.PairAddress)
}

// RecentVolume is the 24h volume, falling back to the shorter windows when it is missing.
func (p *Pair) RecentVolume() float64 {
	for _, v := range []float64{p.Volume.H24, p.Volume.H6, p.Volume.H1} {
		if v > 0 {
			return v
		}
	}
	return 0
}

// PairRef addresses one pool: the feed alias it is published under plus its chain and address.
type PairRef struct {
	Alias   string
	Chain   string
	Address string
}

// String renders the ALIAS@chain/address form accepted by ParsePairRef.
func (r PairRef) String() string { return r.Alias + "@" + r.Chain + "/" + r.Address }

// ParsePairRef reads [ALIAS@][chain/]address, filling the chain from defaultChain.
func ParsePairRef(raw, defaultChain string) (PairRef, error) {
	raw = strings.TrimSpace(raw)
	name, target, found := strings.Cut(raw, "@")
	if !found {
		target = raw
	}
	chain, address, found := strings.Cut(target, "/")
	if !found {
		chain, address = "", target
	}
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		chain = strings.ToLower(strings.TrimSpace(defaultChain))
	}
	address = strings.TrimSpace(address)
	if chain == "" || address == "" {
		return PairRef{}, fmt.Errorf("pair %q missing chain or address", raw)
	}
	return PairRef{Alias: pairAlias(name, address), Chain: chain, Address: address}, nil
}

// pairAlias upper-cases the alphanumerics of name and suffixes the last six of address.
func pairAlias(name, address string) string {
	keep := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			return r
		}
		return -1
	}
	base := strings.Map(keep, name)
	suffix := strings.Map(keep, address)
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	switch {
	case base == "" && suffix == "":
		return "PAIR"
	case base == "":
		return "PAIR_" + suffix
	case suffix == "":
		return base
	}
	return base + "_" + suffix
}
