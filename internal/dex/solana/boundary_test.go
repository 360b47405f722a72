package solana

import (
	"context"
	"errors"
	"net/http"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swarmbot-go/internal/execution"
)

type fakeSwapper struct {
	quote    *Quote
	quoteErr error
	sendErr  error

	gotIn, gotOut, gotMode string
	gotAmount              uint64
	signer                 solana.PublicKey
	sent                   int
}

func (f *fakeSwapper) GetQuote(ctx context.Context, in, out string, amount uint64, slippageBps int, mode string) (*Quote, error) {
	f.gotIn, f.gotOut, f.gotAmount, f.gotMode = in, out, amount, mode
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.quote, nil
}

func (f *fakeSwapper) BuildSwap(ctx context.Context, q *Quote, owner solana.PrivateKey) (*solana.Transaction, error) {
	f.signer = owner.PublicKey()
	return &solana.Transaction{}, nil
}

func (f *fakeSwapper) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sent++
	return solana.Signature{}, f.sendErr
}

var testTokens = map[string]Token{
	"usdc": {Mint: "USDCMINT", Decimals: 6},
	"WIF":  {Mint: "WIFMINT", Decimals: 6},
}

func newBoundary(t *testing.T, sw *fakeSwapper) (*SwapBoundary, string, solana.PublicKey) {
	t.Helper()
	w := solana.NewWallet()
	return NewSwapBoundary(sw, NewKeyring(w.PrivateKey), testTokens, "USDC", 50, zerolog.Nop()), w.PublicKey().String(), w.PublicKey()
}

func TestBuySpendsExactQuote(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "10000000", OutAmount: "4000000"}}
	b, addr, pub := newBoundary(t, sw)

	res, err := b.SubmitOrder(context.Background(), "wif", execution.Buy, decimal.NewFromInt(10), addr)
	if err != nil || res.Status != execution.StatusFilled {
		t.Fatalf("buy: %+v %v", res, err)
	}
	if sw.gotIn != "USDCMINT" || sw.gotOut != "WIFMINT" || sw.gotMode != ExactIn || sw.gotAmount != 10_000_000 {
		t.Fatalf("unexpected quote request %s->%s %d %s", sw.gotIn, sw.gotOut, sw.gotAmount, sw.gotMode)
	}
	if !sw.signer.Equals(pub) {
		t.Fatalf("swap signed by the wrong wallet")
	}
	if !res.FilledQty.Equal(decimal.NewFromInt(4)) || !res.FilledPrice.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected fill qty %s price %s", res.FilledQty, res.FilledPrice)
	}
}

func TestSellReceivesExactQuote(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "5000000", OutAmount: "10000000"}}
	b, addr, _ := newBoundary(t, sw)

	res, err := b.SubmitOrder(context.Background(), "WIF", execution.Sell, decimal.NewFromInt(10), addr)
	if err != nil || res.Status != execution.StatusFilled {
		t.Fatalf("sell: %+v %v", res, err)
	}
	if sw.gotIn != "WIFMINT" || sw.gotOut != "USDCMINT" || sw.gotMode != ExactOut {
		t.Fatalf("unexpected quote request %s->%s %s", sw.gotIn, sw.gotOut, sw.gotMode)
	}
	if !res.FilledQty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5 WIF sold, got %s", res.FilledQty)
	}
}

func TestUnknownWalletOrMintIsRejected(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{}}
	b, addr, _ := newBoundary(t, sw)

	if res, err := b.SubmitOrder(context.Background(), "WIF", execution.Buy, decimal.NewFromInt(1), "stranger"); err != nil || res.Status != execution.StatusRejected {
		t.Fatalf("unknown wallet: %+v %v", res, err)
	}
	if res, err := b.SubmitOrder(context.Background(), "BONK", execution.Buy, decimal.NewFromInt(1), addr); err != nil || res.Status != execution.StatusRejected {
		t.Fatalf("unknown mint: %+v %v", res, err)
	}
	if sw.sent != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestQuoteErrorsAreClassified(t *testing.T) {
	sw := &fakeSwapper{quoteErr: &StatusError{Op: "quote", Code: http.StatusBadGateway}}
	b, addr, _ := newBoundary(t, sw)
	_, err := b.SubmitOrder(context.Background(), "WIF", execution.Buy, decimal.NewFromInt(1), addr)
	if !execution.IsTransient(err) {
		t.Fatalf("502 should be transient, got %v", err)
	}

	sw.quoteErr = &StatusError{Op: "quote", Code: http.StatusBadRequest}
	res, err := b.SubmitOrder(context.Background(), "WIF", execution.Buy, decimal.NewFromInt(1), addr)
	if err != nil || res.Status != execution.StatusRejected {
		t.Fatalf("400 should be a rejection, got %+v %v", res, err)
	}
}

func TestSendFailureIsNotRetried(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{OutAmount: "1"}, sendErr: errors.New("blockhash not found")}
	b, addr, _ := newBoundary(t, sw)
	res, err := b.SubmitOrder(context.Background(), "WIF", execution.Buy, decimal.NewFromInt(1), addr)
	if err != nil || res.Status != execution.StatusFailed {
		t.Fatalf("send failure should be a permanent failure, got %+v %v", res, err)
	}
}
