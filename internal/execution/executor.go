package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/journal"
	"swarmbot-go/internal/metrics"
	"swarmbot-go/internal/swarm"
	"swarmbot-go/internal/util"
)

// Options bound the retry loop.
type Options struct {
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Executor forwards orders to a boundary, retries transient failures and journals the outcome.
type Executor struct {
	boundary Boundary
	journal  journal.Store
	opts     Options
	log      zerolog.Logger
}

// NewExecutor wires a boundary and journal. A nil journal keeps records in memory.
func NewExecutor(boundary Boundary, store journal.Store, opts Options, log zerolog.Logger) *Executor {
	if store == nil {
		store = journal.NewLedger(0)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 100 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = 10 * opts.BackoffMin
	}
	return &Executor{
		boundary: boundary,
		journal:  store,
		opts:     opts,
		log:      util.Component(log, "executor"),
	}
}

// Journal exposes the record store.
func (e *Executor) Journal() journal.Store { return e.journal }

// Submit sends order, retrying transient boundary errors up to MaxRetries times. On success the
// fill is applied to wallet when one is given. Exhausted retries and permanent rejections
// return ErrExecution.
func (e *Executor) Submit(ctx context.Context, order Order, wallet *swarm.Wallet) (Fill, error) {
	if !order.Size.IsPositive() {
		return Fill{}, fmt.Errorf("%w: order %s size %s", exception.ErrInvalidSize, order.ID, order.Size)
	}
	b := &backoff.Backoff{Min: e.opts.BackoffMin, Max: e.opts.BackoffMax, Factor: 2, Jitter: true}
	log := e.log.With().Str("order", order.ID).Str("asset", order.Asset).Str("side", string(order.Side)).
		Str("wallet", order.Wallet).Str("size", order.Size.String()).Logger()

	var (
		res      Result
		err      error
		attempts int
	)
	for {
		attempts++
		res, err = e.boundary.SubmitOrder(ctx, order.Asset, order.Side, order.Size, order.Wallet)
		if err == nil && res.Status != StatusFilled {
			err = fmt.Errorf("order %s: %s", res.Status, res.Reason)
		}
		if err == nil || !IsTransient(err) || attempts > e.opts.MaxRetries {
			break
		}
		wait := b.Duration()
		log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", wait).Msg("transient execution error, retrying")
		if werr := sleep(ctx, wait); werr != nil {
			err = fmt.Errorf("retry aborted: %w", errors.Join(err, werr))
			break
		}
	}

	rec := journal.Record{
		OrderID:    order.ID,
		StrategyID: order.StrategyID,
		Wallet:     order.Wallet,
		Asset:      order.Asset,
		Side:       string(order.Side),
		Size:       order.Size,
		Attempts:   attempts,
		Timestamp:  time.Now().UTC(),
	}

	if err != nil {
		rec.Status = journal.StatusFailure
		rec.Error = err.Error()
		e.persist(ctx, rec, log)
		metrics.OrdersTotal.WithLabelValues(order.Asset, string(order.Side), "failed").Inc()
		log.Error().Err(err).Int("attempts", attempts).Msg("order failed")
		return Fill{}, fmt.Errorf("%w: order %s on %s after %d attempt(s): %v", exception.ErrExecution, order.ID, order.Wallet, attempts, err)
	}

	qty := res.FilledQty
	if qty.IsZero() && res.FilledPrice.IsPositive() {
		qty = order.Size.Div(res.FilledPrice)
	}
	fill := Fill{
		OrderID:    order.ID,
		StrategyID: order.StrategyID,
		Symbol:     order.Asset,
		Side:       order.Side,
		Wallet:     order.Wallet,
		Qty:        qty,
		Price:      res.FilledPrice,
		Notional:   order.Size,
		TxRef:      res.TxRef,
		Ts:         rec.Timestamp,
	}
	rec.Status = journal.StatusSuccess
	rec.Price = res.FilledPrice
	rec.Qty = qty
	rec.TxRef = res.TxRef
	e.persist(ctx, rec, log)
	metrics.OrdersTotal.WithLabelValues(order.Asset, string(order.Side), "filled").Inc()

	if wallet != nil {
		baseDelta, quoteDelta := qty, order.Size.Neg()
		if order.Side == Sell {
			baseDelta, quoteDelta = qty.Neg(), order.Size
		}
		if err := wallet.ApplyFill(order.Asset, baseDelta, quoteOf(order), quoteDelta); err != nil {
			log.Warn().Err(err).Msg("wallet balances out of sync with venue")
		}
	}
	log.Info().Str("price", res.FilledPrice.String()).Str("qty", qty.String()).Str("tx", res.TxRef).Int("attempts", attempts).Msg("order filled")
	return fill, nil
}

func (e *Executor) persist(ctx context.Context, rec journal.Record, log zerolog.Logger) {
	if err := e.journal.Append(context.WithoutCancel(ctx), rec); err != nil {
		log.Error().Err(err).Msg("journal append failed")
	}
}

func quoteOf(order Order) string {
	if order.Quote == "" {
		return "USDC"
	}
	return order.Quote
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
