// Package oracle adapts decision sources into the buy/sell/hold contract the orchestrator consumes.
package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"

	"swarmbot-go/internal/config"
	"swarmbot-go/internal/signal"
	"swarmbot-go/internal/strategy"
)

// Oracle turns a feature vector into a decision.
type Oracle interface {
	Decide(ctx context.Context, features signal.Features) (signal.Decision, error)
}

// Func adapts a plain function into an Oracle.
type Func func(ctx context.Context, features signal.Features) (signal.Decision, error)

// Decide calls f.
func (f Func) Decide(ctx context.Context, features signal.Features) (signal.Decision, error) {
	return f(ctx, features)
}

// StrategyOracle asks a scoring strategy for a signal and maps its score onto a decision.
type StrategyOracle struct {
	strat strategy.Strategy
}

// NewStrategyOracle wraps a scoring strategy.
func NewStrategyOracle(strat strategy.Strategy) *StrategyOracle {
	return &StrategyOracle{strat: strat}
}

// Name is the wrapped strategy name.
func (o *StrategyOracle) Name() string { return o.strat.Name() }

// Decide maps the strategy score to buy or sell with the score magnitude as confidence.
func (o *StrategyOracle) Decide(ctx context.Context, features signal.Features) (signal.Decision, error) {
	if err := ctx.Err(); err != nil {
		return signal.Decision{}, err
	}
	sig := o.strat.Evaluate(features)
	if sig == nil || sig.Score == 0 {
		return signal.Decision{Action: signal.Hold}, nil
	}
	action := signal.Buy
	if sig.Score < 0 {
		action = signal.Sell
	}
	return signal.Decision{Action: action, Confidence: math.Min(1, math.Abs(sig.Score))}, nil
}

// Build returns the oracle selected by cfg. Each strategy should own its own oracle since scoring
// strategies keep per-symbol history.
func Build(cfg config.Oracle) (Oracle, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "strategy":
		p := cfg.Params
		strat, err := strategy.Build(cfg.Mode, strategy.Params{
			OBIThreshold:      p.OBIThreshold,
			VolWindowSecs:     p.VolWindowSecs,
			TrendThreshold:    p.TrendThreshold,
			TrendWindowSecs:   p.TrendWindowSecs,
			TrendMinVolumeUSD: p.TrendMinVolumeUSD,
		})
		if err != nil {
			return nil, err
		}
		return NewStrategyOracle(strat), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http oracle requires url")
		}
		return NewHTTPOracle(cfg.URL, 0), nil
	default:
		return nil, fmt.Errorf("unknown oracle kind %q", cfg.Kind)
	}
}
