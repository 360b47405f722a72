package exchange

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"swarmbot-go/internal/signal"
)

func (f *Feed) runDexScreener(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		if err := f.pollDexScreener(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("dexscreener poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollDexScreener fetches every tracked pair, one batched request per chain.
func (f *Feed) pollDexScreener(ctx context.Context, out chan<- signal.Tick) error {
	byChain := make(map[string][]PairRef)
	for _, raw := range f.Symbols() {
		ref, err := ParsePairRef(raw, f.defaultChain)
		if err != nil {
			f.log.Warn().Err(err).Msg("skipping symbol")
			continue
		}
		byChain[ref.Chain] = append(byChain[ref.Chain], ref)
	}

	var errs []error
	for chain, refs := range byChain {
		addrs := make([]string, len(refs))
		byAddr := make(map[string]PairRef, len(refs))
		for i, r := range refs {
			addrs[i] = r.Address
			byAddr[strings.ToLower(r.Address)] = r
		}
		pairs, err := f.dex.Pairs(ctx, chain, addrs)
		if err != nil {
			errs = append(errs, err)
		}
		for i := range pairs {
			p := &pairs[i]
			ref, ok := byAddr[strings.ToLower(p.PairAddress)]
			if !ok && len(refs) == 1 {
				ref, ok = refs[0], true
			}
			if !ok {
				continue
			}
			tk, err := f.pairTick(ref, p)
			if err != nil {
				f.log.Debug().Err(err).Str("symbol", ref.Alias).Msg("unusable pair")
				continue
			}
			if err := f.emit(ctx, out, tk); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Feed) pairTick(ref PairRef, p *Pair) (signal.Tick, error) {
	price, err := p.Price()
	if err != nil {
		return signal.Tick{}, err
	}
	side := f.side(ref.Alias, price)
	if m5 := p.Txns.M5; m5.Total() > 0 {
		side = 1
		if m5.Sells > m5.Buys {
			side = -1
		}
	}
	size := averageTradeSize(p, price)
	if size <= 0 {
		size = math.Max(1e-6, 10/price)
	}
	return signal.Tick{Symbol: ref.Alias, Price: price, Size: size, Side: side, Ts: time.Now().UTC()}, nil
}

// averageTradeSize is the mean trade in asset units over the shortest window with trades,
// or a sliver of pool liquidity when no window has any.
func averageTradeSize(p *Pair, price float64) float64 {
	windows := []struct {
		volume float64
		txns   Txn
	}{
		{p.Volume.M5, p.Txns.M5},
		{p.Volume.H1, p.Txns.H1},
		{p.Volume.H6, p.Txns.H6},
		{p.Volume.H24, p.Txns.H24},
	}
	for _, w := range windows {
		if n := w.txns.Total(); w.volume > 0 && n > 0 {
			return w.volume / float64(n) / price
		}
	}
	if p.Liquidity.USD > 0 {
		return p.Liquidity.USD * 0.0005 / price
	}
	return 0
}
