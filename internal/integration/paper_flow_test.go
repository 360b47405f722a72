package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swarmbot-go/internal/exchange"
	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/journal"
	"swarmbot-go/internal/lists"
	"swarmbot-go/internal/oracle"
	"swarmbot-go/internal/orchestrator"
	"swarmbot-go/internal/paper"
	"swarmbot-go/internal/risk"
	"swarmbot-go/internal/safety"
	sig "swarmbot-go/internal/signal"
	"swarmbot-go/internal/swarm"
)

type flow struct {
	orch   *orchestrator.Orchestrator
	venue  *paper.Venue
	ledger *journal.Ledger
	swarm  *swarm.Swarm
	lists  *lists.Governor
}

func buildFlow(t *testing.T, ctx context.Context) *flow {
	t.Helper()
	log := zerolog.Nop()
	symbols := []string{"WIFUSDC", "BONKUSDC", "PEPEUSDC"}

	feed := exchange.NewFeed(exchange.ProviderStub, symbols, log, exchange.WithStubInterval(2*time.Millisecond))
	cache := exchange.NewMarketCache(time.Minute)
	ticks := make(chan sig.Tick, 64)
	go func() { _ = feed.Run(ctx, ticks) }()
	go cache.Run(ctx, ticks)

	gov := lists.NewGovernor(lists.NewMemoryStore(), log)
	if err := gov.Load(ctx); err != nil {
		t.Fatalf("load lists: %v", err)
	}
	for _, asset := range []string{"WIF", "BONK"} {
		if _, err := gov.AddToWhitelist(ctx, asset, "ops"); err != nil {
			t.Fatalf("whitelist %s: %v", asset, err)
		}
	}
	if _, err := gov.AddToRedlist(ctx, "BONK", "wash trading", "token"); err != nil {
		t.Fatalf("redlist: %v", err)
	}
	if _, err := gov.AddToBlacklist(ctx, "PEPE", "ops", "rug"); err != nil {
		t.Fatalf("blacklist: %v", err)
	}

	breaker := safety.NewCircuitBreaker(safety.Thresholds{MaxPriceChange: 0.5}, log)
	poison := safety.NewPoisonChecker(gov, nil, time.Minute, 16, log)
	gate := safety.NewGate(breaker, poison, safety.NewWindow(time.Minute))

	venue := paper.NewVenue(cache, 0, 0, 0, log)
	sw := swarm.New()
	for _, addr := range []string{"w1", "w2"} {
		venue.Seed(addr, decimal.NewFromInt(500))
		sw.Add(swarm.NewWallet(addr, map[string]decimal.Decimal{"USDC": decimal.NewFromInt(500)}))
	}
	ledger := journal.NewLedger(0)
	exec := execution.NewExecutor(venue, ledger, execution.Options{MaxRetries: 1, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond}, log)

	orch := orchestrator.New(orchestrator.Deps{
		Market:    cache,
		Safety:    gate,
		Lists:     gov,
		Allocator: swarm.NewAllocator(sw, 0, swarm.DefaultPrecision, log),
		Executor:  exec,
		Pumplist:  gov,
		Risk:      risk.Limits{MaxNotionalPerTrade: 50},
	}, orchestrator.Options{RetryAttempts: 3, FetchTimeout: time.Second, OracleTimeout: time.Second}, log)

	buy := oracle.Func(func(ctx context.Context, f sig.Features) (sig.Decision, error) {
		return sig.Decision{Action: sig.Buy, Confidence: 0.9}, nil
	})
	for _, asset := range []string{"WIF", "BONK", "PEPE"} {
		spec := orchestrator.Spec{
			ID:        asset,
			Asset:     asset,
			Quote:     "USDC",
			Symbol:    asset + "USDC",
			Interval:  5 * time.Millisecond,
			OrderSize: decimal.NewFromInt(10),
			Oracle:    buy,
		}
		if _, err := orch.Register(spec); err != nil {
			t.Fatalf("register %s: %v", asset, err)
		}
		venue.Route(asset, spec.Symbol)
	}
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(sctx)
	})
	return &flow{orch: orch, venue: venue, ledger: ledger, swarm: sw, lists: gov}
}

func waitOutcome(t *testing.T, o *orchestrator.Orchestrator, id string, cond func(orchestrator.Strategy) bool) orchestrator.Strategy {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := o.Status(id)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		if cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := o.Status(id)
	t.Fatalf("timed out waiting on %s, last status %+v", id, st)
	return st
}

func TestPaperFlowFillsAcrossSwarmAndJournals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := buildFlow(t, ctx)

	if _, err := f.orch.Start("WIF"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitOutcome(t, f.orch, "WIF", func(st orchestrator.Strategy) bool { return st.Cycles >= 3 })
	st, err := f.orch.Stop(ctx, "WIF")
	if err != nil || st != orchestrator.Stopped {
		t.Fatalf("stop: %v %v", st, err)
	}

	recs := f.ledger.Snapshot()
	if len(recs) == 0 || len(recs)%2 != 0 {
		t.Fatalf("expected one journal record per wallet slice, got %d", len(recs))
	}
	wallets := map[string]int{}
	for _, r := range recs {
		if r.Status != journal.StatusSuccess || r.StrategyID != "WIF" || r.Asset != "WIF" {
			t.Fatalf("unexpected record %+v", r)
		}
		if !r.Size.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("expected 5 USDC slices, got %s", r.Size)
		}
		wallets[r.Wallet]++
	}
	if wallets["w1"] != wallets["w2"] {
		t.Fatalf("slices should alternate evenly across wallets: %v", wallets)
	}

	trades := int64(len(recs) / 2)
	for _, addr := range []string{"w1", "w2"} {
		w, err := f.swarm.Get(addr)
		if err != nil {
			t.Fatalf("wallet %s: %v", addr, err)
		}
		want := decimal.NewFromInt(500 - 5*trades)
		if !w.Balance("USDC").Equal(want) {
			t.Fatalf("%s USDC balance %s, want %s", addr, w.Balance("USDC"), want)
		}
		if !w.Balance("WIF").IsPositive() {
			t.Fatalf("%s should hold WIF", addr)
		}
		snap := f.venue.Snapshot(addr)
		if !snap.Positions["WIF"].Qty.IsPositive() {
			t.Fatalf("%s paper account should hold WIF: %+v", addr, snap)
		}
		if !snap.Cash.Equal(want) {
			t.Fatalf("%s paper cash %s, want %s", addr, snap.Cash, want)
		}
	}
}

func TestPaperFlowListAndSafetySkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := buildFlow(t, ctx)

	for _, id := range []string{"BONK", "PEPE"} {
		if _, err := f.orch.Start(id); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	bonk := waitOutcome(t, f.orch, "BONK", func(st orchestrator.Strategy) bool { return st.Cycles >= 3 })
	pepe := waitOutcome(t, f.orch, "PEPE", func(st orchestrator.Strategy) bool { return st.Cycles >= 3 })

	if bonk.LastOutcome != orchestrator.OutcomeListSkip || bonk.State != orchestrator.Running {
		t.Fatalf("redlisted asset should be skipped by list policy: %+v", bonk)
	}
	if pepe.LastOutcome != orchestrator.OutcomeSafetySkip || pepe.State != orchestrator.Running {
		t.Fatalf("blacklisted asset should be skipped by the safety gate: %+v", pepe)
	}
	if n := len(f.ledger.Snapshot()); n != 0 {
		t.Fatalf("skipped strategies must not trade, journal has %d records", n)
	}
}
