// Package signal standardizes payloads shared between data ingestion, decision and execution layers.
package signal

import (
	"strings"
	"time"
)

// Tick models the essential pieces of market data emitted by feeds.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Side   int // +1 buy, -1 sell (aggressor)
	Ts     time.Time
}

// MarketData is the per-cycle observation the orchestrator pulls from the data layer.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Action is the oracle's trade verdict.
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

// String is the lower-case action name.
func (a Action) String() string {
	switch a {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

// ParseAction maps wire names to actions; anything unrecognized is a hold.
func ParseAction(s string) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return Buy
	case "sell", "short":
		return Sell
	default:
		return Hold
	}
}

// Decision is the oracle output contract.
type Decision struct {
	Action     Action
	Confidence float64
}

// Features is the named observation vector handed to the oracle.
type Features struct {
	Symbol string
	Ts     time.Time
	Values map[string]float64
}

// Feature names populated by the orchestrator.
const (
	FeaturePrice       = "price"
	FeatureVolume      = "volume"
	FeaturePriceChange = "price_change"
	FeatureVolumeSpike = "volume_spike"
)

// Opportunity pairs the oracle verdict with the spread observed when it was produced.
type Opportunity struct {
	Asset      string
	Action     Action
	Confidence float64
	Spread     float64
}

// Actionable reports whether the opportunity calls for a trade.
func (o Opportunity) Actionable() bool { return o.Action != Hold }
