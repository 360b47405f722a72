// Package risk holds per-trade guard-rails applied after the oracle speaks.
package risk

import "swarmbot-go/internal/signal"

// Limits caps trade size and sets the confidence floor. Zero values disable each check.
type Limits struct {
	MaxNotionalPerTrade float64
	MinConfidence       float64
}

// Allow reports whether notional fits the per-trade cap. A zero cap disables the check.
func (l Limits) Allow(notional float64) bool {
	if l.MaxNotionalPerTrade <= 0 {
		return true
	}
	return notional <= l.MaxNotionalPerTrade
}

// AllowDecision reports whether d is actionable and confident enough to trade.
func (l Limits) AllowDecision(d signal.Decision) bool {
	return d.Action != signal.Hold && d.Confidence >= l.MinConfidence
}

// Cap clamps notional to the per-trade cap.
func (l Limits) Cap(notional float64) float64 {
	if l.MaxNotionalPerTrade > 0 && notional > l.MaxNotionalPerTrade {
		return l.MaxNotionalPerTrade
	}
	return notional
}
