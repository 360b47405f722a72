package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"swarmbot-go/internal/signal"
)

// TrendFollower signals when the windowed price change clears a threshold on enough traded notional.
type TrendFollower struct {
	threshold float64
	span      time.Duration
	minVolume float64

	mu     sync.Mutex
	series series
}

// NewTrendFollower signals once price moves threshold over windowSecs with at least
// minVolumeUSD traded.
func NewTrendFollower(threshold float64, windowSecs int, minVolumeUSD float64) *TrendFollower {
	if threshold <= 0 {
		threshold = 0.05
	}
	if windowSecs <= 0 {
		windowSecs = 180
	}
	return &TrendFollower{
		threshold: threshold,
		span:      time.Duration(windowSecs) * time.Second,
		minVolume: math.Max(0, minVolumeUSD),
		series:    make(series),
	}
}

// Name identifies the strategy in logs and config.
func (t *TrendFollower) Name() string { return "trend_follower" }

// Evaluate scores the relative change between the oldest and newest price in the window.
func (t *TrendFollower) Evaluate(f signal.Features) *Signal {
	if f.Symbol == "" || f.Values[signal.FeaturePrice] <= 0 {
		return nil
	}

	t.mu.Lock()
	w := t.series.push(t.span, f.Symbol, sampleOf(f))
	oldest, latest := w.bounds()
	notional := w.notional()
	t.mu.Unlock()

	if oldest.price <= 0 {
		return nil
	}
	change := (latest.price - oldest.price) / oldest.price
	if math.Abs(change) < t.threshold {
		return nil
	}
	if t.minVolume > 0 && notional < t.minVolume {
		return nil
	}
	return &Signal{
		Symbol: f.Symbol,
		Score:  change,
		Reason: fmt.Sprintf("change=%.2f%% notional=%.0f", change*100, notional),
		Ts:     f.Ts,
	}
}
