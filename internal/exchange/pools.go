package exchange

import (
	"context"
	"fmt"
	"strings"
)

// PoolOptions tunes the activity heuristic.
type PoolOptions struct {
	// BurstFactor flags a 5m transaction count above this multiple of the 1h per-5m average.
	BurstFactor float64
	// OneSidedRatio flags 5m flow where buys or sells exceed this share of all transactions.
	OneSidedRatio float64
	// MinTxns is the smallest 5m sample the heuristic will judge.
	MinTxns int
}

// DexScreenerPools answers pool liquidity and activity questions for token addresses.
type DexScreenerPools struct {
	client *DexScreenerClient
	chain  string
	opts   PoolOptions
}

// NewDexScreenerPools answers pool liquidity and activity checks on chain through client.
func NewDexScreenerPools(client *DexScreenerClient, chain string, opts PoolOptions) *DexScreenerPools {
	if client == nil {
		client = NewDexScreenerClient("", 0)
	}
	if opts.BurstFactor <= 0 {
		opts.BurstFactor = 4
	}
	if opts.OneSidedRatio <= 0 {
		opts.OneSidedRatio = 0.9
	}
	if opts.MinTxns <= 0 {
		opts.MinTxns = 20
	}
	return &DexScreenerPools{client: client, chain: strings.ToLower(strings.TrimSpace(chain)), opts: opts}
}

// deepestPair picks the most liquid pool for token, restricted to the configured chain when set.
func (p *DexScreenerPools) deepestPair(ctx context.Context, token string) (*Pair, error) {
	pairs, err := p.client.TokenPairs(ctx, token)
	if err != nil {
		return nil, err
	}
	var best *Pair
	for i := range pairs {
		pair := &pairs[i]
		if p.chain != "" && strings.ToLower(pair.ChainID) != p.chain {
			continue
		}
		if best == nil || pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no pool for %s", token)
	}
	return best, nil
}

// PoolLiquidity returns the USD liquidity of the token's deepest pool.
func (p *DexScreenerPools) PoolLiquidity(ctx context.Context, token string) (float64, error) {
	pair, err := p.deepestPair(ctx, token)
	if err != nil {
		return 0, err
	}
	return pair.Liquidity.USD, nil
}

// SuspiciousActivity flags transaction bursts and one-sided flow in the last five minutes.
func (p *DexScreenerPools) SuspiciousActivity(ctx context.Context, token string) (bool, string, error) {
	pair, err := p.deepestPair(ctx, token)
	if err != nil {
		return false, "", err
	}
	flagged, reason := judgeActivity(pair, p.opts)
	return flagged, reason, nil
}

func judgeActivity(pair *Pair, opts PoolOptions) (bool, string) {
	m5 := pair.Txns.M5.Total()
	if m5 < opts.MinTxns {
		return false, ""
	}
	h1 := pair.Txns.H1.Total()
	if avg := float64(h1) / 12; avg > 0 && float64(m5) > opts.BurstFactor*avg {
		return true, fmt.Sprintf("txn burst: %d in 5m vs %.1f avg", m5, avg)
	}
	buys, sells := float64(pair.Txns.M5.Buys), float64(pair.Txns.M5.Sells)
	if buys/float64(m5) >= opts.OneSidedRatio {
		return true, fmt.Sprintf("one-sided buys: %d/%d in 5m", pair.Txns.M5.Buys, m5)
	}
	if sells/float64(m5) >= opts.OneSidedRatio {
		return true, fmt.Sprintf("one-sided sells: %d/%d in 5m", pair.Txns.M5.Sells, m5)
	}
	return false, ""
}
