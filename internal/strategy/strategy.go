// Package strategy scores per-cycle feature vectors into directional signals.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"swarmbot-go/internal/signal"
)

// Signal is a directional score. Positive favors buying; its magnitude is the conviction.
type Signal struct {
	Symbol string
	Score  float64
	Reason string
	Ts     time.Time
}

// Strategy keeps per-symbol history and scores each new observation against it.
// Evaluate returns nil when the strategy has no opinion.
type Strategy interface {
	Evaluate(f signal.Features) *Signal
	Name() string
}

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	OBIThreshold      float64
	VolWindowSecs     int
	TrendThreshold    float64
	TrendWindowSecs   int
	TrendMinVolumeUSD float64
}

// Build returns the strategy named by mode.
func Build(mode string, params Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "obi", "obi_momentum":
		return NewOBIMomentum(params.OBIThreshold, params.VolWindowSecs), nil
	case "trend", "trend_follow", "trend_follower":
		return NewTrendFollower(params.TrendThreshold, params.TrendWindowSecs, params.TrendMinVolumeUSD), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}

// sample is one observation kept in a rolling window.
type sample struct {
	price  float64
	volume float64
	side   int
	ts     time.Time
}

func sampleOf(f signal.Features) sample {
	side := 1
	if f.Values[signal.FeaturePriceChange] < 0 {
		side = -1
	}
	return sample{
		price:  f.Values[signal.FeaturePrice],
		volume: f.Values[signal.FeatureVolume],
		side:   side,
		ts:     f.Ts,
	}
}

// window holds the samples newer than span relative to the last push.
type window struct {
	span    time.Duration
	samples []sample
}

func (w *window) push(s sample) {
	w.samples = append(w.samples, s)
	cutoff := s.ts.Add(-w.span)
	drop := 0
	for drop < len(w.samples) && !w.samples[drop].ts.After(cutoff) {
		drop++
	}
	w.samples = w.samples[drop:]
}

func (w *window) bounds() (oldest, latest sample) {
	if len(w.samples) == 0 {
		return sample{}, sample{}
	}
	return w.samples[0], w.samples[len(w.samples)-1]
}

// flow is the signed volume imbalance in [-1, 1].
func (w *window) flow() float64 {
	var buy, sell float64
	for _, s := range w.samples {
		if s.side >= 0 {
			buy += s.volume
		} else {
			sell += s.volume
		}
	}
	if buy+sell == 0 {
		return 0
	}
	return clamp((buy-sell)/(buy+sell), -1, 1)
}

func (w *window) notional() float64 {
	var total float64
	for _, s := range w.samples {
		total += s.price * s.volume
	}
	return total
}

// series maps symbols to their windows.
type series map[string]*window

func (m series) push(span time.Duration, symbol string, s sample) *window {
	w := m[symbol]
	if w == nil {
		w = &window{span: span}
		m[symbol] = w
	}
	w.push(s)
	return w
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
