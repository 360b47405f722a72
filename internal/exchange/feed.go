// Package exchange hosts market data feeds, the latest-price cache and pool lookups.
package exchange

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"swarmbot-go/internal/metrics"
	"swarmbot-go/internal/signal"
	"swarmbot-go/internal/util"
)

const (
	// ProviderStub emits synthetic ticks for offline runs and tests.
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"
	// ProviderDexScreener polls Dexscreener for on-chain pairs.
	ProviderDexScreener = "dexscreener"
)

const defaultPollInterval = 2 * time.Second

// Feed publishes ticks for a mutable symbol set from one provider.
type Feed struct {
	provider     string
	log          zerolog.Logger
	pollInterval time.Duration
	stubInterval time.Duration
	dex          *DexScreenerClient
	defaultChain string

	mu      sync.RWMutex
	symbols []string
	// changed is closed and replaced whenever the symbol set changes.
	changed chan struct{}
	last    map[string]float64
}

// Option configures a Feed.
type Option func(*Feed)

// WithPollInterval sets the polling cadence of HTTP providers.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithStubInterval sets the synthetic tick cadence of the stub provider.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithDexScreener polls through client; refs without a chain use defaultChain.
func WithDexScreener(client *DexScreenerClient, defaultChain string) Option {
	return func(f *Feed) {
		if client != nil {
			f.dex = client
		}
		f.defaultChain = strings.ToLower(strings.TrimSpace(defaultChain))
	}
}

// NewFeed builds a feed for provider (stub, binance or dexscreener) over the initial symbols.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          util.Component(log, "feed").With().Str("provider", strings.ToLower(provider)).Logger(),
		pollInterval: defaultPollInterval,
		stubInterval: 500 * time.Millisecond,
		changed:      make(chan struct{}),
		last:         make(map[string]float64),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.dex == nil {
		f.dex = NewDexScreenerClient("", 0)
	}
	f.SetSymbols(symbols)
	return f
}

// SetSymbols replaces the tracked symbols. Streaming providers resubscribe on change.
func (f *Feed) SetSymbols(symbols []string) {
	next := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.TrimSpace(s); s != "" {
			next = append(next, s)
		}
	}
	slices.Sort(next)
	next = slices.Compact(next)

	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Equal(next, f.symbols) {
		return
	}
	f.symbols = next
	close(f.changed)
	f.changed = make(chan struct{})
}

// Symbols returns a copy of the tracked symbols.
func (f *Feed) Symbols() []string {
	syms, _ := f.watch()
	return syms
}

// watch returns the current symbols and a channel closed on their next change.
func (f *Feed) watch() ([]string, <-chan struct{}) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.symbols), f.changed
}

// Run publishes ticks to out until ctx ends.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	f.log.Info().Strs("symbols", f.Symbols()).Msg("market data feed starting")
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	case ProviderDexScreener:
		return f.runDexScreener(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- signal.Tick, tk signal.Tick) error {
	select {
	case out <- tk:
		metrics.TicksTotal.WithLabelValues(tk.Symbol).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// side infers the aggressor from the move against the previous price of symbol.
func (f *Feed) side(symbol string, price float64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.last[symbol]
	f.last[symbol] = price
	if prev > 0 && price < prev {
		return -1
	}
	return 1
}

// runStub walks every symbol upward by a small step per interval.
func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	const start, step = 100.0, 0.1
	prices := make(map[string]float64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			for _, s := range f.Symbols() {
				px, ok := prices[s]
				if !ok {
					px = start
				}
				px += step
				prices[s] = px
				if err := f.emit(ctx, out, signal.Tick{Symbol: s, Price: px, Size: 1, Side: f.side(s, px), Ts: ts}); err != nil {
					return err
				}
			}
		}
	}
}
