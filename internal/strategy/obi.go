package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"swarmbot-go/internal/signal"
)

// OBIMomentum blends volume imbalance with price momentum over a sliding window.
type OBIMomentum struct {
	threshold float64
	span      time.Duration

	mu     sync.Mutex
	series series
}

// NewOBIMomentum scores with the given absolute threshold over windowSec seconds.
func NewOBIMomentum(threshold float64, windowSec int) *OBIMomentum {
	if threshold <= 0 {
		threshold = 0.25
	}
	if windowSec <= 0 {
		windowSec = 60
	}
	return &OBIMomentum{
		threshold: threshold,
		span:      time.Duration(windowSec) * time.Second,
		series:    make(series),
	}
}

// Name identifies the strategy in logs and config.
func (s *OBIMomentum) Name() string { return "obi_momentum" }

// Evaluate folds f into the symbol window and scores flow imbalance plus momentum.
func (s *OBIMomentum) Evaluate(f signal.Features) *Signal {
	if f.Symbol == "" || f.Values[signal.FeaturePrice] <= 0 {
		return nil
	}

	s.mu.Lock()
	w := s.series.push(s.span, f.Symbol, sampleOf(f))
	oldest, latest := w.bounds()
	flow := w.flow()
	s.mu.Unlock()

	momentum := 0.0
	if oldest.price > 0 {
		momentum = math.Tanh(3 * (latest.price - oldest.price) / oldest.price)
	}
	score := 0.6*flow + 0.4*momentum
	if math.Abs(score) < s.threshold {
		return nil
	}
	return &Signal{
		Symbol: f.Symbol,
		Score:  score,
		Reason: fmt.Sprintf("flow=%.2f momentum=%.2f", flow, momentum),
		Ts:     f.Ts,
	}
}
