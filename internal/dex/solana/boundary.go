package solana

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/util"
)

// Token is a mint and its decimal places.
type Token struct {
	Mint     string
	Decimals int32
}

// Swapper is the Jupiter surface the boundary needs.
type Swapper interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int, mode string) (*Quote, error)
	BuildSwap(ctx context.Context, quote *Quote, owner solana.PrivateKey) (*solana.Transaction, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// SwapBoundary executes order slices as Jupiter swaps against the quote token. Buys spend exactly
// the slice notional; sells receive exactly it.
type SwapBoundary struct {
	swapper     Swapper
	keys        *Keyring
	tokens      map[string]Token
	quote       string
	slippageBps int
	log         zerolog.Logger
}

// NewSwapBoundary swaps between quote and each token in tokens, signing with keys.
func NewSwapBoundary(swapper Swapper, keys *Keyring, tokens map[string]Token, quote string, slippageBps int, log zerolog.Logger) *SwapBoundary {
	norm := make(map[string]Token, len(tokens))
	for sym, tok := range tokens {
		norm[strings.ToUpper(sym)] = tok
	}
	return &SwapBoundary{
		swapper:     swapper,
		keys:        keys,
		tokens:      norm,
		quote:       strings.ToUpper(quote),
		slippageBps: slippageBps,
		log:         util.Component(log, "jupiter"),
	}
}

// TokensFromConfig joins the configured mint and decimals tables. Missing decimals default to 6.
func TokensFromConfig(mints map[string]string, decimals map[string]int32) map[string]Token {
	out := make(map[string]Token, len(mints))
	for sym, mint := range mints {
		d, ok := decimals[sym]
		if !ok {
			d = 6
		}
		out[sym] = Token{Mint: mint, Decimals: d}
	}
	return out
}

func (b *SwapBoundary) token(symbol string) (Token, bool) {
	tok, ok := b.tokens[strings.ToUpper(symbol)]
	return tok, ok
}

// SubmitOrder implements execution.Boundary.
func (b *SwapBoundary) SubmitOrder(ctx context.Context, asset string, side execution.Side, size decimal.Decimal, wallet string) (execution.Result, error) {
	owner, ok := b.keys.Signer(wallet)
	if !ok {
		return execution.Result{Status: execution.StatusRejected, Reason: "no signing key for wallet " + wallet}, nil
	}
	base, ok := b.token(asset)
	if !ok {
		return execution.Result{Status: execution.StatusRejected, Reason: "no mint configured for " + asset}, nil
	}
	quote, ok := b.token(b.quote)
	if !ok {
		return execution.Result{Status: execution.StatusRejected, Reason: "no mint configured for " + b.quote}, nil
	}
	amount := toUnits(size, quote.Decimals)
	if amount == 0 {
		return execution.Result{Status: execution.StatusRejected, Reason: "size below one quote unit"}, nil
	}

	in, out, mode := quote, base, ExactIn
	if side == execution.Sell {
		in, out, mode = base, quote, ExactOut
	}
	q, err := b.swapper.GetQuote(ctx, in.Mint, out.Mint, amount, b.slippageBps, mode)
	if err != nil {
		return b.classify("quote", err)
	}
	tx, err := b.swapper.BuildSwap(ctx, q, owner)
	if err != nil {
		return b.classify("swap", err)
	}
	sig, err := b.swapper.Send(ctx, tx)
	if err != nil {
		// The transaction may have landed; resubmitting could double-spend.
		return execution.Result{Status: execution.StatusFailed, Reason: "send: " + err.Error()}, nil
	}

	qtyRaw := q.OutAmount
	if side == execution.Sell {
		qtyRaw = q.InAmount
	}
	qty, err := fromUnits(qtyRaw, base.Decimals)
	if err != nil {
		return execution.Result{Status: execution.StatusFilled, TxRef: sig.String(), Reason: "unparsed quote amount"}, nil
	}
	res := execution.Result{Status: execution.StatusFilled, FilledQty: qty, TxRef: sig.String()}
	if qty.IsPositive() {
		res.FilledPrice = size.Div(qty)
	}
	b.log.Info().
		Str("asset", asset).
		Str("side", string(side)).
		Str("wallet", wallet).
		Str("size", size.String()).
		Str("qty", qty.String()).
		Str("sig", sig.String()).
		Msg("swap sent")
	return res, nil
}

// classify turns pre-send failures into a retryable error or a rejection.
func (b *SwapBoundary) classify(op string, err error) (execution.Result, error) {
	var se *StatusError
	var ne net.Error
	switch {
	case errors.As(err, &se) && !se.Retryable():
		return execution.Result{Status: execution.StatusRejected, Reason: se.Error()}, nil
	case errors.As(err, &se), errors.As(err, &ne), errors.Is(err, context.DeadlineExceeded):
		return execution.Result{}, execution.Transient(fmt.Errorf("jupiter %s: %w", op, err))
	default:
		return execution.Result{Status: execution.StatusFailed, Reason: fmt.Sprintf("%s: %v", op, err)}, nil
	}
}

func toUnits(amount decimal.Decimal, decimals int32) uint64 {
	units := amount.Shift(decimals).Floor()
	if !units.IsPositive() {
		return 0
	}
	return units.BigInt().Uint64()
}

func fromUnits(raw string, decimals int32) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Shift(-decimals), nil
}
