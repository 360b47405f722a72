// Package execution submits orders to a venue boundary and records every attempt.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"swarmbot-go/internal/exception"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy spends quote to acquire the asset.
	Buy Side = "BUY"
	// Sell spends the asset to acquire quote.
	Sell Side = "SELL"
)

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Order is one allocation slice. Size is the quote notional. Orders are values and are not
// mutated after submission.
type Order struct {
	ID         string
	StrategyID string
	Asset      string
	Quote      string
	Side       Side
	Size       decimal.Decimal
	Wallet     string
	CreatedAt  time.Time
}

// NewOrder stamps a fresh id and creation time.
func NewOrder(strategyID, asset, quote string, side Side, size decimal.Decimal, wallet string) Order {
	return Order{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		Asset:      asset,
		Quote:      quote,
		Side:       side,
		Size:       size,
		Wallet:     wallet,
		CreatedAt:  time.Now().UTC(),
	}
}

// Status values reported by a boundary.
const (
	StatusFilled   = "filled"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Result is what the venue reports for one submission.
type Result struct {
	Status      string
	FilledPrice decimal.Decimal
	// FilledQty is the asset quantity moved. Zero means Size / FilledPrice.
	FilledQty decimal.Decimal
	TxRef     string
	Reason    string
}

// Boundary is the external venue an order is sent to.
type Boundary interface {
	SubmitOrder(ctx context.Context, asset string, side Side, size decimal.Decimal, wallet string) (Result, error)
}

// Fill is a completed order.
type Fill struct {
	OrderID    string          `json:"order_id"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Wallet     string          `json:"wallet,omitempty"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Notional   decimal.Decimal `json:"notional"`
	TxRef      string          `json:"tx_ref,omitempty"`
	Ts         time.Time       `json:"ts"`
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as safe to retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var te transientError
	switch {
	case err == nil:
		return false
	case errors.As(err, &te):
		return true
	case errors.Is(err, exception.ErrTransientFetch), errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
