// Package orchestrator runs one control loop per strategy and owns their lifecycle.
package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"swarmbot-go/internal/config"
	"swarmbot-go/internal/oracle"
	"swarmbot-go/internal/swarm"
)

// State is a strategy lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Paused
	Stopped
)

// String is the lower-case state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "idle":
		*s = Idle
	case "running":
		*s = Running
	case "paused":
		*s = Paused
	case "stopped":
		*s = Stopped
	default:
		return fmt.Errorf("unknown strategy state %q", b)
	}
	return nil
}

// Sizing selects how a cycle's order size is computed.
type Sizing int

const (
	Fixed Sizing = iota
	DCA
)

// Spec defines one strategy.
type Spec struct {
	ID string
	// Asset and Quote form the traded pair; Symbol keys the market data.
	Asset            string
	Quote            string
	Symbol           string
	Interval         time.Duration
	OrderSize        decimal.Decimal
	Sizing           Sizing
	DCAFraction      decimal.Decimal
	Wallets          []string
	Policy           swarm.Policy
	RequireGreenlist bool
	Oracle           oracle.Oracle
}

// Pair renders ASSET/QUOTE.
func (s Spec) Pair() string { return s.Asset + "/" + s.Quote }

func (s Spec) validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("strategy id required")
	case s.Asset == "" || s.Quote == "":
		return fmt.Errorf("strategy %s: pair must be ASSET/QUOTE", s.ID)
	case s.Interval <= 0:
		return fmt.Errorf("strategy %s: interval must be positive", s.ID)
	case s.Oracle == nil:
		return fmt.Errorf("strategy %s: oracle required", s.ID)
	case s.Sizing == Fixed && !s.OrderSize.IsPositive():
		return fmt.Errorf("strategy %s: fixed sizing needs a positive order size", s.ID)
	case s.Sizing == DCA && (!s.DCAFraction.IsPositive() || s.DCAFraction.GreaterThan(decimal.NewFromInt(1))):
		return fmt.Errorf("strategy %s: dca fraction must be in (0, 1]", s.ID)
	}
	return nil
}

// SpecFromConfig translates a configured strategy. The oracle is attached by the caller.
func SpecFromConfig(c config.Strategy, policy swarm.Policy, orc oracle.Oracle) (Spec, error) {
	parts := strings.SplitN(c.Pair, "/", 2)
	if len(parts) != 2 {
		return Spec{}, fmt.Errorf("strategy %s: pair %q must be ASSET/QUOTE", c.ID, c.Pair)
	}
	spec := Spec{
		ID:               c.ID,
		Asset:            strings.TrimSpace(parts[0]),
		Quote:            strings.ToUpper(strings.TrimSpace(parts[1])),
		Symbol:           c.Symbol,
		Interval:         config.Millis(c.IntervalMs, 10*time.Second),
		OrderSize:        decimal.NewFromFloat(c.OrderSize),
		DCAFraction:      decimal.NewFromFloat(c.DCAFraction),
		Wallets:          append([]string(nil), c.Wallets...),
		Policy:           policy,
		RequireGreenlist: c.RequireGreenlist,
		Oracle:           orc,
	}
	if spec.Symbol == "" {
		spec.Symbol = spec.Asset + spec.Quote
	}
	switch strings.ToLower(strings.TrimSpace(c.Sizing)) {
	case "", "fixed":
		spec.Sizing = Fixed
	case "dca":
		spec.Sizing = DCA
	default:
		return Spec{}, fmt.Errorf("strategy %s: unknown sizing %q", c.ID, c.Sizing)
	}
	return spec, spec.validate()
}

// Strategy is a point-in-time view of one managed strategy.
type Strategy struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Interval    string    `json:"interval"`
	State       State     `json:"state"`
	Run         int       `json:"run"`
	Cycles      int64     `json:"cycles"`
	Failures    int       `json:"consecutive_failures"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	StoppedAt   time.Time `json:"stopped_at,omitempty"`
}
