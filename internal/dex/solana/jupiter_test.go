package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

func TestNewJupiterClientCommit(t *testing.T) {
	client := NewJupiterClient("https://rpc", "https://jup", "finalized")
	if client.Commit != rpc.CommitmentFinalized {
		t.Fatalf("expected finalized commitment, got %v", client.Commit)
	}
	if NewJupiterClient("https://rpc", "https://jup", "").Commit != rpc.CommitmentConfirmed {
		t.Fatalf("expected confirmed by default")
	}
}

func TestGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v6/quote" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("inputMint") != "AAA" {
			t.Fatalf("missing inputMint query")
		}
		if r.URL.Query().Get("swapMode") != ExactOut {
			t.Fatalf("expected ExactOut, got %q", r.URL.Query().Get("swapMode"))
		}
		resp := Quote{InputMint: "AAA", OutputMint: "BBB", InAmount: "10", OutAmount: "20", SlippageBps: 50, SwapMode: ExactOut}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewJupiterClient("https://rpc", server.URL, "processed")
	client.Http = server.Client()

	quote, err := client.GetQuote(context.Background(), "AAA", "BBB", 10, 50, ExactOut)
	if err != nil {
		t.Fatalf("GetQuote returned error: %v", err)
	}
	if quote.OutAmount != "20" {
		t.Fatalf("expected OutAmount 20, got %s", quote.OutAmount)
	}
}

func TestGetQuoteStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewJupiterClient("https://rpc", server.URL, "processed")
	_, err := client.GetQuote(context.Background(), "AAA", "BBB", 10, 50, "")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || !se.Retryable() {
		t.Fatalf("expected retryable 429, got %v", err)
	}
}

func TestBuildSwapRejectsBadTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["userPublicKey"] == "" {
			t.Fatalf("missing user key")
		}
		_, _ = w.Write([]byte(`{"swapTransaction":"not base64!"}`))
	}))
	defer server.Close()

	client := NewJupiterClient("https://rpc", server.URL, "processed")
	if _, err := client.BuildSwap(context.Background(), &Quote{}, solana.NewWallet().PrivateKey); err == nil {
		t.Fatalf("expected decode error")
	}
}
