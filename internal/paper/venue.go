package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/util"
)

// PriceSource answers the last traded price for a feed symbol without consuming it.
type PriceSource interface {
	Peek(symbol string) (float64, bool)
}

// Venue fills orders against the latest cached price, one paper account per wallet.
type Venue struct {
	prices       PriceSource
	slippage     decimal.Decimal
	startingCash decimal.Decimal
	maxPosition  decimal.Decimal
	log          zerolog.Logger

	mu       sync.Mutex
	accounts map[string]*Account
	routes   map[string]string
}

// NewVenue fills against prices. Accounts open lazily with startingCash unless seeded.
func NewVenue(prices PriceSource, startingCash, maxPosition, slippageBps float64, log zerolog.Logger) *Venue {
	return &Venue{
		prices:       prices,
		slippage:     decimal.NewFromFloat(slippageBps).Div(decimal.NewFromInt(10_000)),
		startingCash: decimal.NewFromFloat(startingCash),
		maxPosition:  decimal.NewFromFloat(maxPosition),
		log:          util.Component(log, "paper"),
		accounts:     make(map[string]*Account),
		routes:       make(map[string]string),
	}
}

// Route prices asset from the feed symbol. Unrouted assets are looked up under their own name.
func (v *Venue) Route(asset, symbol string) {
	v.mu.Lock()
	v.routes[asset] = symbol
	v.mu.Unlock()
}

func (v *Venue) symbolFor(asset string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sym, ok := v.routes[asset]; ok {
		return sym
	}
	return asset
}

// Seed opens wallet's account with cash, replacing any existing one.
func (v *Venue) Seed(wallet string, cash decimal.Decimal) *Account {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := NewAccount(cash, v.maxPosition)
	v.accounts[wallet] = acct
	return acct
}

// Account returns wallet's account, opening it with the default starting cash.
func (v *Venue) Account(wallet string) *Account {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[wallet]
	if !ok {
		acct = NewAccount(v.startingCash, v.maxPosition)
		v.accounts[wallet] = acct
	}
	return acct
}

// Wallets lists every wallet with an open account.
func (v *Venue) Wallets() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.accounts))
	for w := range v.accounts {
		out = append(out, w)
	}
	return out
}

// Snapshot marks wallet's account to the latest feed prices.
func (v *Venue) Snapshot(wallet string) Snapshot {
	acct := v.Account(wallet)
	held := acct.Snapshot(nil)
	prices := make(map[string]decimal.Decimal, len(held.Positions))
	for asset := range held.Positions {
		if px, ok := v.prices.Peek(v.symbolFor(asset)); ok {
			prices[asset] = decimal.NewFromFloat(px)
		}
	}
	return acct.Snapshot(prices)
}

// SubmitOrder spends (buy) or raises (sell) size of quote at the latest price moved against the
// order by the configured slippage.
func (v *Venue) SubmitOrder(ctx context.Context, asset string, side execution.Side, size decimal.Decimal, wallet string) (execution.Result, error) {
	if err := ctx.Err(); err != nil {
		return execution.Result{}, err
	}
	symbol := v.symbolFor(asset)
	last, ok := v.prices.Peek(symbol)
	if !ok || last <= 0 {
		return execution.Result{}, execution.Transient(fmt.Errorf("%w: no price for %s (%s)", exception.ErrTransientFetch, asset, symbol))
	}
	adj := decimal.NewFromInt(1).Add(v.slippage)
	if side == execution.Sell {
		adj = decimal.NewFromInt(1).Sub(v.slippage)
	}
	price := decimal.NewFromFloat(last).Mul(adj)
	qty := size.DivRound(price, 12)

	if err := v.Account(wallet).Fill(asset, side, qty, size); err != nil {
		v.log.Debug().Err(err).Str("wallet", wallet).Str("asset", asset).Msg("paper fill rejected")
		return execution.Result{Status: execution.StatusRejected, Reason: err.Error()}, nil
	}
	return execution.Result{
		Status:      execution.StatusFilled,
		FilledPrice: price,
		FilledQty:   qty,
		TxRef:       "paper-" + uuid.NewString(),
	}, nil
}
