// Package safety holds the circuit breaker and poison-token gate consulted before every trade.
package safety

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"swarmbot-go/internal/metrics"
	"swarmbot-go/internal/util"
)

// Thresholds trip the breaker when an observation is strictly above them. Zero disables a check.
type Thresholds struct {
	MaxPriceChange float64 `json:"max_price_change"`
	MaxVolumeSpike float64 `json:"max_volume_spike"`
}

// Observation is one rolling-window reading for a symbol.
type Observation struct {
	Symbol      string    `json:"symbol"`
	PriceChange float64   `json:"price_change"`
	VolumeSpike float64   `json:"volume_spike"`
	At          time.Time `json:"at"`
}

// BreakerState is an immutable snapshot; a new one is swapped in on every transition.
type BreakerState struct {
	Triggered  bool        `json:"triggered"`
	Reason     string      `json:"reason,omitempty"`
	TrippedAt  time.Time   `json:"tripped_at,omitempty"`
	Thresholds Thresholds  `json:"thresholds"`
	Last       Observation `json:"last"`
}

// CircuitBreaker latches once tripped and only an explicit Reset clears it.
type CircuitBreaker struct {
	limits Thresholds
	state  atomic.Pointer[BreakerState]
	log    zerolog.Logger
}

// NewCircuitBreaker returns an untripped breaker. A zero threshold disables that check.
func NewCircuitBreaker(limits Thresholds, log zerolog.Logger) *CircuitBreaker {
	b := &CircuitBreaker{limits: limits, log: util.Component(log, "breaker")}
	b.state.Store(&BreakerState{Thresholds: limits})
	return b
}

func (b *CircuitBreaker) breach(obs Observation) string {
	if b.limits.MaxPriceChange > 0 && math.Abs(obs.PriceChange) > b.limits.MaxPriceChange {
		return fmt.Sprintf("price change %.4f exceeds %.4f on %s", obs.PriceChange, b.limits.MaxPriceChange, obs.Symbol)
	}
	if b.limits.MaxVolumeSpike > 0 && obs.VolumeSpike > b.limits.MaxVolumeSpike {
		return fmt.Sprintf("volume spike %.2fx exceeds %.2fx on %s", obs.VolumeSpike, b.limits.MaxVolumeSpike, obs.Symbol)
	}
	return ""
}

// Record folds obs into the breaker state and reports whether this call tripped it.
func (b *CircuitBreaker) Record(obs Observation) bool {
	if obs.At.IsZero() {
		obs.At = time.Now().UTC()
	}
	for {
		cur := b.state.Load()
		next := *cur
		next.Last = obs
		tripped := false
		if !cur.Triggered {
			if reason := b.breach(obs); reason != "" {
				next.Triggered = true
				next.Reason = reason
				next.TrippedAt = obs.At
				tripped = true
			}
		}
		if b.state.CompareAndSwap(cur, &next) {
			if tripped {
				metrics.BreakerTrips.Inc()
				b.log.Warn().Str("symbol", obs.Symbol).Str("reason", next.Reason).Msg("circuit breaker tripped")
			}
			return tripped
		}
	}
}

// CheckStatus returns false whenever the breaker is tripped.
func (b *CircuitBreaker) CheckStatus() bool {
	return !b.state.Load().Triggered
}

// Reset clears a tripped breaker and reports whether it was tripped.
func (b *CircuitBreaker) Reset() bool {
	for {
		cur := b.state.Load()
		if !cur.Triggered {
			return false
		}
		next := &BreakerState{Thresholds: cur.Thresholds, Last: cur.Last}
		if b.state.CompareAndSwap(cur, next) {
			b.log.Info().Str("previous_reason", cur.Reason).Msg("circuit breaker reset")
			return true
		}
	}
}

// State returns the current snapshot.
func (b *CircuitBreaker) State() BreakerState {
	return *b.state.Load()
}
