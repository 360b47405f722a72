// Package paper simulates per-wallet fills for dry runs.
package paper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"swarmbot-go/internal/execution"
)

// Fill rejections. The venue reports them as rejected results.
var (
	ErrInsufficientCash     = errors.New("insufficient cash for buy")
	ErrPositionLimit        = errors.New("position limit exceeded")
	ErrInsufficientPosition = errors.New("insufficient position to sell")
)

type position struct {
	qty decimal.Decimal
	// cost is the quote spent on the open quantity.
	cost decimal.Decimal
}

// Account tracks virtual cash, realized PnL and per-asset positions for one paper wallet.
type Account struct {
	mu           sync.Mutex
	startingCash decimal.Decimal
	cash         decimal.Decimal
	realized     decimal.Decimal
	maxPosition  decimal.Decimal
	positions    map[string]position
}

// PositionSnapshot is one marked position.
type PositionSnapshot struct {
	Qty         decimal.Decimal `json:"qty"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	MarketValue decimal.Decimal `json:"market_value"`
	Unrealized  decimal.Decimal `json:"unrealized"`
}

// Snapshot is a copy of the account marked to the supplied prices. Unpriced positions carry
// no market value.
type Snapshot struct {
	Cash        decimal.Decimal             `json:"cash"`
	RealizedPnL decimal.Decimal             `json:"realized_pnl"`
	Equity      decimal.Decimal             `json:"equity"`
	Positions   map[string]PositionSnapshot `json:"positions"`
}

// NewAccount opens an account with startingCash. A zero maxPosition leaves positions uncapped.
func NewAccount(startingCash, maxPosition decimal.Decimal) *Account {
	return &Account{
		startingCash: startingCash,
		cash:         startingCash,
		maxPosition:  maxPosition,
		positions:    make(map[string]position),
	}
}

// StartingCash is the cash the account opened with.
func (a *Account) StartingCash() decimal.Decimal { return a.startingCash }

// Fill moves qty of asset against notional of quote. Buys spend notional; sells receive it.
func (a *Account) Fill(asset string, side execution.Side, qty, notional decimal.Decimal) error {
	if !qty.IsPositive() || !notional.IsPositive() {
		return fmt.Errorf("fill %s: quantity %s and notional %s must be positive", asset, qty, notional)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pos := a.positions[asset]
	switch side {
	case execution.Buy:
		if notional.GreaterThan(a.cash) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, notional, a.cash)
		}
		next := pos.qty.Add(qty)
		if a.maxPosition.IsPositive() && next.GreaterThan(a.maxPosition) {
			return fmt.Errorf("%w: %s %s over cap %s", ErrPositionLimit, next, asset, a.maxPosition)
		}
		a.cash = a.cash.Sub(notional)
		a.positions[asset] = position{qty: next, cost: pos.cost.Add(notional)}

	case execution.Sell:
		if qty.GreaterThan(pos.qty) {
			return fmt.Errorf("%w: hold %s %s, selling %s", ErrInsufficientPosition, pos.qty, asset, qty)
		}
		// Cost leaves the position pro rata to the quantity sold.
		released := pos.cost.Mul(qty).Div(pos.qty)
		a.realized = a.realized.Add(notional.Sub(released))
		a.cash = a.cash.Add(notional)
		if rest := pos.qty.Sub(qty); rest.IsPositive() {
			a.positions[asset] = position{qty: rest, cost: pos.cost.Sub(released)}
		} else {
			delete(a.positions, asset)
		}

	default:
		return fmt.Errorf("unknown order side %q", side)
	}
	return nil
}

// Snapshot copies the account, marking positions with prices.
func (a *Account) Snapshot(prices map[string]decimal.Decimal) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realized,
		Equity:      a.cash,
		Positions:   make(map[string]PositionSnapshot, len(a.positions)),
	}
	for asset, pos := range a.positions {
		ps := PositionSnapshot{Qty: pos.qty, AvgCost: pos.cost.Div(pos.qty)}
		if mark, ok := prices[asset]; ok && mark.IsPositive() {
			ps.MarketValue = pos.qty.Mul(mark)
			ps.Unrealized = ps.MarketValue.Sub(pos.cost)
		}
		snap.Positions[asset] = ps
		snap.Equity = snap.Equity.Add(ps.MarketValue)
	}
	return snap
}

// Cash is the uncommitted quote balance.
func (a *Account) Cash() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns the open quantity of asset.
func (a *Account) Position(asset string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[asset].qty
}

// RealizedPnL sums the profit booked by sells.
func (a *Account) RealizedPnL() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realized
}
