package safety

import (
	"context"
	"fmt"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/signal"
)

// Gate combines the breaker and the poison check into the single pre-trade safety decision.
type Gate struct {
	Breaker *CircuitBreaker
	Poison  *PoisonChecker
	Window  *Window
}

// NewGate combines the breaker, the poison checker and the observation window.
func NewGate(breaker *CircuitBreaker, poison *PoisonChecker, window *Window) *Gate {
	return &Gate{Breaker: breaker, Poison: poison, Window: window}
}

// Observe feeds market data through the window into the breaker.
func (g *Gate) Observe(md signal.MarketData) Observation {
	if g.Window == nil {
		return Observation{Symbol: md.Symbol, At: md.Timestamp}
	}
	obs := g.Window.Observe(md)
	if g.Breaker != nil {
		g.Breaker.Record(obs)
	}
	return obs
}

// Check returns a safety violation when trading asset is not allowed right now.
func (g *Gate) Check(ctx context.Context, asset string) error {
	if g.Breaker != nil && !g.Breaker.CheckStatus() {
		return fmt.Errorf("%w: %s", exception.ErrBreakerTripped, g.Breaker.State().Reason)
	}
	if g.Poison != nil {
		return g.Poison.Check(ctx, asset)
	}
	return nil
}
