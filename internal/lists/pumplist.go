package lists

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/iter"

	"swarmbot-go/internal/metrics"
)

// LiquiditySource reports the current pool liquidity for an asset in quote units.
type LiquiditySource interface {
	PoolLiquidity(ctx context.Context, asset string) (float64, error)
}

// ActivityFeed inspects recent mempool or trade flow around an asset.
type ActivityFeed interface {
	SuspiciousActivity(ctx context.Context, asset string) (bool, string, error)
}

// MarketMaker provides liquidity for an asset through the wallet swarm.
type MarketMaker interface {
	MakeMarket(ctx context.Context, asset string, size decimal.Decimal) error
}

// PumplistDeps wires the collaborators of ApplyPumplistLogic. Any of them may be nil.
type PumplistDeps struct {
	Liquidity   LiquiditySource
	Activity    ActivityFeed
	MarketMaker MarketMaker
	Parallelism int
}

// SetPumplistDeps installs the pumplist collaborators.
func (g *Governor) SetPumplistDeps(deps PumplistDeps) {
	g.writeMu.Lock()
	g.pump = deps
	g.writeMu.Unlock()
}

// PumplistAction reports what one pass did for one entry.
type PumplistAction struct {
	Asset      string          `json:"asset"`
	Expired    bool            `json:"expired,omitempty"`
	Liquidity  float64         `json:"liquidity"`
	Threshold  float64         `json:"threshold"`
	Deficit    decimal.Decimal `json:"deficit"`
	MarketMade bool            `json:"market_made,omitempty"`
	Flagged    bool            `json:"flagged,omitempty"`
	FlagReason string          `json:"flag_reason,omitempty"`
	Err        string          `json:"error,omitempty"`
}

// ApplyPumplistLogic expires focus-bounded entries, then for every remaining active pumplist
// entry tops up liquidity below its threshold and flags suspicious activity.
func (g *Governor) ApplyPumplistLogic(ctx context.Context) ([]PumplistAction, error) {
	g.writeMu.Lock()
	deps := g.pump
	g.writeMu.Unlock()

	entries, err := g.GetPumplist()
	if err != nil {
		return nil, err
	}

	now := g.now()
	var (
		report []PumplistAction
		live   []Entry
	)
	for _, e := range entries {
		if !e.FocusExpired(now) {
			live = append(live, e)
			continue
		}
		// The snapshot may be stale; expireFocus re-checks under the write lock.
		cur, expired, err := g.expireFocus(ctx, e.Identifier, now)
		if !expired && err == nil {
			if cur.Active {
				live = append(live, cur)
			}
			continue
		}
		act := PumplistAction{Asset: e.Identifier, Expired: true, Threshold: e.MinLiquidity}
		if err != nil {
			act.Err = err.Error()
		}
		metrics.PumplistActions.WithLabelValues("expired").Inc()
		report = append(report, act)
	}

	workers := deps.Parallelism
	if workers <= 0 {
		workers = 4
	}
	mapper := iter.Mapper[Entry, PumplistAction]{MaxGoroutines: workers}
	report = append(report, mapper.Map(live, func(e *Entry) PumplistAction {
		return g.pumpEntry(ctx, deps, *e)
	})...)
	return report, nil
}

func (g *Governor) pumpEntry(ctx context.Context, deps PumplistDeps, e Entry) PumplistAction {
	act := PumplistAction{Asset: e.Identifier, Threshold: e.MinLiquidity, Deficit: decimal.Zero}
	log := g.log.With().Str("asset", e.Identifier).Logger()

	if deps.Liquidity != nil && e.MinLiquidity > 0 {
		liq, err := deps.Liquidity.PoolLiquidity(ctx, e.Identifier)
		if err != nil {
			act.Err = fmt.Sprintf("liquidity: %v", err)
			metrics.PumplistActions.WithLabelValues("liquidity_error").Inc()
			log.Warn().Err(err).Msg("pumplist liquidity lookup failed")
		} else {
			act.Liquidity = liq
			if liq < e.MinLiquidity {
				act.Deficit = decimal.NewFromFloat(e.MinLiquidity - liq).Round(2)
				if deps.MarketMaker != nil && act.Deficit.IsPositive() {
					if err := deps.MarketMaker.MakeMarket(ctx, e.Identifier, act.Deficit); err != nil {
						act.Err = fmt.Sprintf("market making: %v", err)
						metrics.PumplistActions.WithLabelValues("market_make_error").Inc()
						log.Warn().Err(err).Str("deficit", act.Deficit.String()).Msg("pumplist market making failed")
					} else {
						act.MarketMade = true
						metrics.PumplistActions.WithLabelValues("market_made").Inc()
						log.Info().Float64("liquidity", liq).Str("deficit", act.Deficit.String()).Msg("pumplist liquidity topped up")
					}
				}
			}
		}
	}

	if deps.Activity != nil {
		flagged, reason, err := deps.Activity.SuspiciousActivity(ctx, e.Identifier)
		switch {
		case err != nil:
			if act.Err == "" {
				act.Err = fmt.Sprintf("activity: %v", err)
			}
			log.Warn().Err(err).Msg("pumplist activity check failed")
		case flagged:
			act.Flagged = true
			act.FlagReason = reason
			metrics.PumplistActions.WithLabelValues("flagged").Inc()
			log.Warn().Str("reason", reason).Msg("suspicious activity around pumplist asset")
		}
	}
	return act
}
