package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/signal"
)

type volumeBucket struct {
	sec  int64
	size float64
}

type cachedQuote struct {
	price   float64
	ts      time.Time
	buckets []volumeBucket
}

// volume sums the traded size in the span ending at the quote's last tick.
func (q cachedQuote) volume(span time.Duration) float64 {
	from := q.ts.Add(-span).Unix()
	var total float64
	for _, b := range q.buckets {
		if b.sec > from {
			total += b.size
		}
	}
	return total
}

// MarketCache keeps the latest price per symbol and the traded size over a trailing span.
// Reads do not mutate it, so any number of strategies can share one symbol.
type MarketCache struct {
	maxAge     time.Duration
	volumeSpan time.Duration

	mu     sync.Mutex
	quotes map[string]cachedQuote
	notify chan struct{}
}

// CacheOption customizes a MarketCache.
type CacheOption func(*MarketCache)

// WithVolumeSpan sets the trailing span summed into MarketData.Volume. The default is one minute.
func WithVolumeSpan(d time.Duration) CacheOption {
	return func(c *MarketCache) {
		if d >= time.Second {
			c.volumeSpan = d
		}
	}
}

// NewMarketCache returns an empty cache. Quotes older than maxAge are treated as missing;
// zero disables the check.
func NewMarketCache(maxAge time.Duration, opts ...CacheOption) *MarketCache {
	c := &MarketCache{
		maxAge:     maxAge,
		volumeSpan: time.Minute,
		quotes:     make(map[string]cachedQuote),
		notify:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes ticks until ctx ends or the channel closes.
func (c *MarketCache) Run(ctx context.Context, ticks <-chan signal.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tk, ok := <-ticks:
			if !ok {
				return
			}
			c.Observe(tk)
		}
	}
}

// Observe folds one tick into the cache and wakes any waiting readers.
func (c *MarketCache) Observe(tk signal.Tick) {
	ts := tk.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	sec := ts.Unix()
	c.mu.Lock()
	q := c.quotes[tk.Symbol]
	q.price = tk.Price
	q.ts = ts
	if n := len(q.buckets); n > 0 && q.buckets[n-1].sec == sec {
		q.buckets[n-1].size += tk.Size
	} else {
		q.buckets = append(q.buckets, volumeBucket{sec: sec, size: tk.Size})
	}
	from := ts.Add(-c.volumeSpan).Unix()
	drop := 0
	for drop < len(q.buckets) && q.buckets[drop].sec <= from {
		drop++
	}
	q.buckets = q.buckets[drop:]
	c.quotes[tk.Symbol] = q
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

func (c *MarketCache) fresh(q cachedQuote) bool {
	if q.price <= 0 {
		return false
	}
	return c.maxAge <= 0 || time.Since(q.ts) <= c.maxAge
}

// Latest returns the current market data for symbol, with the volume traded over the trailing
// span. Timestamp is the last tick's time, so readers of the same tick see identical data. When
// no usable quote exists it waits for one until ctx ends, then fails with ErrTransientFetch.
func (c *MarketCache) Latest(ctx context.Context, symbol string) (signal.MarketData, error) {
	for {
		c.mu.Lock()
		q, ok := c.quotes[symbol]
		if ok && c.fresh(q) {
			md := signal.MarketData{Symbol: symbol, Price: q.price, Volume: q.volume(c.volumeSpan), Timestamp: q.ts}
			c.mu.Unlock()
			return md, nil
		}
		wait := c.notify
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return signal.MarketData{}, fmt.Errorf("%w: market data for %s: %v", exception.ErrTransientFetch, symbol, ctx.Err())
		}
	}
}

// Peek returns the last price without waiting.
func (c *MarketCache) Peek(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[symbol]
	return q.price, ok && q.price > 0
}

// Prices snapshots every cached price.
func (c *MarketCache) Prices() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.quotes))
	for sym, q := range c.quotes {
		out[sym] = q.price
	}
	return out
}
