package exchange

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"swarmbot-go/internal/config"
	"swarmbot-go/internal/util"
)

// SymbolFilter reports whether a discovered pair may join the feed. tokenAddress is the pair's
// base token.
type SymbolFilter func(symbol, tokenAddress string) bool

// DexScreenerDiscovery periodically searches Dexscreener for liquid pairs and widens the feed's
// symbol set with them. Manual symbols are always kept.
type DexScreenerDiscovery struct {
	log    zerolog.Logger
	feed   *Feed
	client *DexScreenerClient
	manual []string
	chains map[string]bool
	cfg    config.Discovery

	mu      sync.Mutex
	filter  SymbolFilter
	lastSet []string
}

type candidate struct {
	ref       PairRef
	liquidity float64
	volume    float64
	change24  float64
	score     float64
}

// NewDexScreenerDiscovery returns nil when discovery is disabled.
func NewDexScreenerDiscovery(log zerolog.Logger, feed *Feed, client *DexScreenerClient, manual []string, defaultChain string, cfg config.Discovery) *DexScreenerDiscovery {
	if feed == nil || !cfg.Enabled {
		return nil
	}
	if client == nil {
		client = NewDexScreenerClient("", 0)
	}
	if cfg.MaxPairs <= 0 {
		cfg.MaxPairs = 12
	}
	if cfg.MaxPairsPerKeyword <= 0 {
		cfg.MaxPairsPerKeyword = cfg.MaxPairs
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = []string{"wif", "boden", "pepe", "doge"}
	}
	chains := make(map[string]bool)
	for _, c := range cfg.Chains {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			chains[c] = true
		}
	}
	if len(chains) == 0 && defaultChain != "" {
		chains[strings.ToLower(defaultChain)] = true
	}
	return &DexScreenerDiscovery{
		log:    util.Component(log, "discovery"),
		feed:   feed,
		client: client,
		manual: slices.Clone(manual),
		chains: chains,
		cfg:    cfg,
	}
}

// SetFilter installs a filter consulted for every discovered pair.
func (d *DexScreenerDiscovery) SetFilter(filter SymbolFilter) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.filter = filter
	d.mu.Unlock()
}

// Start refreshes immediately and then on every refresh interval until ctx ends.
func (d *DexScreenerDiscovery) Start(ctx context.Context) {
	if d == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Millis(d.cfg.RefreshInterval, 15*time.Second))
		defer ticker.Stop()
		for {
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn().Err(err).Msg("symbol discovery refresh failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Refresh runs one discovery pass and installs manual plus discovered symbols on the feed.
func (d *DexScreenerDiscovery) Refresh(ctx context.Context) error {
	if d == nil {
		return nil
	}
	found := d.discover(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	symbols := slices.Clone(d.manual)
	for _, c := range found {
		symbols = append(symbols, c.ref.String())
	}
	d.feed.SetSymbols(symbols)
	d.logChange(d.feed.Symbols(), found)
	return nil
}

// discover searches every keyword concurrently, then admits pairs in keyword order.
func (d *DexScreenerDiscovery) discover(ctx context.Context) []candidate {
	mapper := iter.Mapper[string, []Pair]{MaxGoroutines: 4}
	results := mapper.Map(d.cfg.Keywords, func(kw *string) []Pair {
		pairs, err := d.client.Search(ctx, *kw)
		if err != nil {
			d.log.Debug().Err(err).Str("keyword", *kw).Msg("dexscreener search failed")
		}
		return pairs
	})

	d.mu.Lock()
	filter := d.filter
	d.mu.Unlock()

	seen := make(map[string]bool)
	var out []candidate
	for _, pairs := range results {
		added := 0
		for i := range pairs {
			if len(out) >= d.cfg.MaxPairs || added >= d.cfg.MaxPairsPerKeyword {
				break
			}
			c, ok := d.admit(&pairs[i], filter)
			if !ok || seen[c.ref.Address] {
				continue
			}
			seen[c.ref.Address] = true
			out = append(out, c)
			added++
		}
	}
	slices.SortStableFunc(out, func(a, b candidate) int {
		if diff := a.score - b.score; diff > 1 || diff < -1 {
			return cmp.Compare(b.score, a.score)
		}
		return cmp.Compare(b.liquidity, a.liquidity)
	})
	return out
}

func (d *DexScreenerDiscovery) admit(p *Pair, filter SymbolFilter) (candidate, bool) {
	chain := strings.ToLower(p.ChainID)
	if p.PairAddress == "" || (len(d.chains) > 0 && !d.chains[chain]) {
		return candidate{}, false
	}
	if d.cfg.MinLiquidityUSD > 0 && p.Liquidity.USD < d.cfg.MinLiquidityUSD {
		return candidate{}, false
	}
	volume := p.RecentVolume()
	if d.cfg.MinVolumeUSD > 0 && volume < d.cfg.MinVolumeUSD {
		return candidate{}, false
	}
	base := cmp.Or(p.BaseToken.Symbol, p.BaseToken.Name)
	quote := cmp.Or(p.QuoteToken.Symbol, p.QuoteToken.Name)
	ref := PairRef{Alias: pairAlias(base+quote, p.PairAddress), Chain: chain, Address: p.PairAddress}
	if filter != nil && !filter(ref.String(), p.BaseToken.Address) {
		d.log.Debug().Str("symbol", ref.String()).Str("token", p.BaseToken.Address).Msg("discovered pair filtered out")
		return candidate{}, false
	}
	score := 0.6*p.Liquidity.USD + 0.35*volume
	if p.PriceChange.H24 > 0 {
		score += 1000 * p.PriceChange.H24
	}
	return candidate{ref: ref, liquidity: p.Liquidity.USD, volume: volume, change24: p.PriceChange.H24, score: score}, true
}

func (d *DexScreenerDiscovery) logChange(symbols []string, found []candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slices.Equal(symbols, d.lastSet) {
		return
	}
	prev := d.lastSet
	d.lastSet = symbols
	detail := make([]string, len(found))
	for i, c := range found {
		detail[i] = fmt.Sprintf("%s(liq=%.0f vol=%.0f d24=%.2f)", c.ref.Alias, c.liquidity, c.volume, c.change24)
	}
	d.log.Info().Strs("symbols", symbols).Strs("discovered", detail).Strs("previous", prev).Msg("symbol universe updated")
}
