package safety

import (
	"sync"
	"time"

	"swarmbot-go/internal/signal"
)

type sample struct {
	price  float64
	volume float64
	at     time.Time
}

// Window turns successive market data points into breaker observations over a rolling span.
type Window struct {
	span time.Duration

	mu      sync.Mutex
	samples map[string][]sample
}

// NewWindow keeps samples for span, one minute when span is not positive.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = time.Minute
	}
	return &Window{span: span, samples: make(map[string][]sample)}
}

// Observe appends md and returns price change relative to the oldest sample in the window and
// the volume of md relative to the mean of the earlier samples. Several readers of one tick
// (same timestamp) all get the same observation and leave one sample behind.
func (w *Window) Observe(md signal.MarketData) Observation {
	at := md.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := at.Add(-w.span)
	kept := w.samples[md.Symbol][:0]
	for _, s := range w.samples[md.Symbol] {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}

	// A repeat read of the last tick is measured against the same baseline and not stored again.
	repeat := false
	if n := len(kept); n > 0 && kept[n-1].at.Equal(at) {
		kept, repeat = kept[:n-1], true
	}

	obs := Observation{Symbol: md.Symbol, At: at}
	if len(kept) > 0 {
		if base := kept[0].price; base > 0 {
			obs.PriceChange = (md.Price - base) / base
		}
		var sum float64
		for _, s := range kept {
			sum += s.volume
		}
		if mean := sum / float64(len(kept)); mean > 0 {
			obs.VolumeSpike = md.Volume / mean
		}
	}
	if repeat {
		kept = kept[:len(kept)+1]
	} else {
		kept = append(kept, sample{price: md.Price, volume: md.Volume, at: at})
	}
	w.samples[md.Symbol] = kept
	return obs
}
