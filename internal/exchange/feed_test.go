package exchange

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"swarmbot-go/internal/signal"
)

func TestStubFeedWalksEachSymbol(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []string{"WIFUSDC", "BONKUSDC"}, zerolog.Nop(), WithStubInterval(time.Millisecond))
	ticks := make(chan signal.Tick, 8)
	go func() { _ = feed.Run(ctx, ticks) }()

	last := map[string]float64{}
	for len(last) < 2 || last["WIFUSDC"] < 100.2 {
		select {
		case tk := <-ticks:
			if prev, ok := last[tk.Symbol]; ok && tk.Price <= prev {
				t.Fatalf("%s price did not advance: %f -> %f", tk.Symbol, prev, tk.Price)
			}
			last[tk.Symbol] = tk.Price
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for ticks, have %v", last)
		}
	}
}

func TestSetSymbolsDedupesAndSignalsChange(t *testing.T) {
	feed := NewFeed(ProviderStub, []string{"B", "A", "B", " "}, zerolog.Nop())
	syms, changed := feed.watch()
	if strings.Join(syms, ",") != "A,B" {
		t.Fatalf("unexpected symbols %v", syms)
	}
	feed.SetSymbols([]string{"A", "B"})
	select {
	case <-changed:
		t.Fatalf("identical symbol set should not signal a change")
	default:
	}
	feed.SetSymbols([]string{"C"})
	select {
	case <-changed:
	default:
		t.Fatalf("expected change signal")
	}
}

func TestDecodeBinanceTrade(t *testing.T) {
	tk, err := decodeBinanceTrade([]byte(`{"stream":"wifusdt@trade","data":{"p":"2.5","q":"40","T":1700000000000,"m":true}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tk.Symbol != "WIFUSDT" || tk.Price != 2.5 || tk.Size != 40 || tk.Side != -1 {
		t.Fatalf("unexpected tick %+v", tk)
	}
	if _, err := decodeBinanceTrade([]byte(`{"stream":"x@trade","data":{"p":"nan?","q":"1"}}`)); err == nil {
		t.Fatalf("expected price error")
	}
	for stream, want := range map[string]string{"btcusdt@trade": "BTCUSDT", "ethusdt@aggTrade": "ETHUSDT", "dogeusdt": "DOGEUSDT", "": ""} {
		if got := binanceSymbol(stream); got != want {
			t.Fatalf("binanceSymbol(%q) = %q, want %q", stream, got, want)
		}
	}
}

func TestParsePairRef(t *testing.T) {
	ref, err := ParsePairRef("WIFSOL@solana/PAIR", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.Alias != "WIFSOL_PAIR" || ref.Chain != "solana" || ref.Address != "PAIR" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.String() != "WIFSOL_PAIR@solana/PAIR" {
		t.Fatalf("unexpected render %s", ref.String())
	}
	ref, err = ParsePairRef("boden@/0xabcdef123456", "Solana")
	if err != nil || ref.Chain != "solana" || ref.Alias != "BODEN_123456" {
		t.Fatalf("default chain not applied: %+v %v", ref, err)
	}
	if _, err := ParsePairRef("NOPE@/ADDR", ""); err == nil {
		t.Fatalf("expected error without any chain")
	}
}

func TestDexScreenerFeedBatchesPairs(t *testing.T) {
	const body = `{"pairs":[
		{"pairAddress":"PAIR1","priceUsd":"0.01","txns":{"m5":{"buys":3,"sells":1}},"volume":{"m5":120}},
		{"pairAddress":"PAIR2","priceUsd":"2","txns":{"m5":{"buys":1,"sells":4}},"liquidity":{"usd":20000}}]}`
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if p := r.URL.Path; !strings.HasPrefix(p, "/latest/dex/pairs/solana/") || !strings.Contains(p, "PAIR1") || !strings.Contains(p, "PAIR2") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewFeed(ProviderDexScreener, []string{"WIF@PAIR1", "BONK@solana/PAIR2"}, zerolog.Nop(),
		WithDexScreener(NewDexScreenerClient(server.URL, 6000), "solana"),
		WithPollInterval(time.Hour))

	ticks := make(chan signal.Tick, 2)
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Run(ctx, ticks) }()

	got := map[string]signal.Tick{}
	for len(got) < 2 {
		select {
		case tk := <-ticks:
			got[tk.Symbol] = tk
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	wif, bonk := got["WIF_PAIR1"], got["BONK_PAIR2"]
	if wif.Price != 0.01 || wif.Side != 1 || math.Abs(wif.Size-3000) > 1e-6 {
		t.Fatalf("unexpected WIF tick %+v", wif)
	}
	if bonk.Price != 2 || bonk.Side != -1 || math.Abs(bonk.Size-5) > 1e-9 {
		t.Fatalf("unexpected BONK tick %+v", bonk)
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("expected one batched request, got %d", n)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("feed returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("feed did not stop after cancel")
	}
}

func TestDexScreenerClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"pair":{"pairAddress":"P","priceNative":"3"}}`))
	}))
	defer server.Close()

	pairs, err := NewDexScreenerClient(server.URL, 6000).TokenPairs(context.Background(), "MINT")
	if err != nil {
		t.Fatalf("token pairs: %v", err)
	}
	if len(pairs) != 1 || calls.Load() != 2 {
		t.Fatalf("expected a retry then one pair, got %d pairs after %d calls", len(pairs), calls.Load())
	}
	if px, err := pairs[0].Price(); err != nil || px != 3 {
		t.Fatalf("native price fallback: %v %v", px, err)
	}
}

func TestDexScreenerClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewDexScreenerClient(server.URL, 6000).Search(context.Background(), "wif")
	var se *HTTPStatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("expected status error, got %v", err)
	}
}
