// Package journal durably records every order attempt and its outcome.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Record is one order attempt.
type Record struct {
	ID         string          `json:"id" gorm:"primaryKey;size:36"`
	OrderID    string          `json:"order_id" gorm:"index;size:36"`
	StrategyID string          `json:"strategy_id,omitempty" gorm:"index"`
	Wallet     string          `json:"wallet"`
	Asset      string          `json:"asset" gorm:"index"`
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size" gorm:"type:numeric"`
	Price      decimal.Decimal `json:"price" gorm:"type:numeric"`
	Qty        decimal.Decimal `json:"qty" gorm:"type:numeric"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error,omitempty"`
	TxRef      string          `json:"tx_ref,omitempty"`
	Timestamp  time.Time       `json:"timestamp" gorm:"index"`
}

// TableName pins the gorm table name.
func (Record) TableName() string { return "trade_records" }

func (r *Record) stamp() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
}

// Store persists records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// Recent returns up to limit records, newest last. limit <= 0 means all.
	Recent(ctx context.Context, limit int) ([]Record, error)
}

func tail(recs []Record, limit int) []Record {
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// Tee appends to every store and reads from the first.
type Tee []Store

// Append writes rec to every store and joins their errors.
func (t Tee) Append(ctx context.Context, rec Record) error {
	rec.stamp()
	var errs []error
	for _, s := range t {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first store.
func (t Tee) Recent(ctx context.Context, limit int) ([]Record, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return t[0].Recent(ctx, limit)
}
