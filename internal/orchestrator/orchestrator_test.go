package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swarmbot-go/internal/alert"
	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/lists"
	"swarmbot-go/internal/oracle"
	"swarmbot-go/internal/safety"
	"swarmbot-go/internal/signal"
	"swarmbot-go/internal/swarm"
)

type marketFunc func(ctx context.Context, symbol string) (signal.MarketData, error)

func (f marketFunc) Latest(ctx context.Context, symbol string) (signal.MarketData, error) {
	return f(ctx, symbol)
}

func steadyMarket(price float64) marketFunc {
	return func(ctx context.Context, symbol string) (signal.MarketData, error) {
		return signal.MarketData{Symbol: symbol, Price: price, Volume: 10, Timestamp: time.Now()}, nil
	}
}

type policyFunc func(asset string, requireGreenlist bool) error

func (f policyFunc) Permit(asset string, requireGreenlist bool) error {
	return f(asset, requireGreenlist)
}

type stubGate struct{ err error }

func (g stubGate) Observe(md signal.MarketData) safety.Observation {
	return safety.Observation{Symbol: md.Symbol, At: md.Timestamp}
}

func (g stubGate) Check(ctx context.Context, asset string) error { return g.err }

type recordingSubmitter struct {
	mu      sync.Mutex
	orders  []execution.Order
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (s *recordingSubmitter) Submit(ctx context.Context, order execution.Order, w *swarm.Wallet) (execution.Fill, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	if s.err != nil {
		return execution.Fill{}, s.err
	}
	return execution.Fill{OrderID: order.ID, Symbol: order.Asset, Side: order.Side, Notional: order.Size}, nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *recordingSubmitter) total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, o := range s.orders {
		sum = sum.Add(o.Size)
	}
	return sum
}

type countingAlerter struct {
	mu     sync.Mutex
	events []alert.Event
}

func (a *countingAlerter) Critical(ctx context.Context, ev alert.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *countingAlerter) list() []alert.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alert.Event(nil), a.events...)
}

func alwaysBuy() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, f signal.Features) (signal.Decision, error) {
		return signal.Decision{Action: signal.Buy, Confidence: 1}, nil
	})
}

func alwaysHold() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, f signal.Features) (signal.Decision, error) {
		return signal.Decision{Action: signal.Hold}, nil
	})
}

func testSwarm() *swarm.Swarm {
	return swarm.New(
		swarm.NewWallet("w1", map[string]decimal.Decimal{"USDC": decimal.NewFromInt(100), "WIF": decimal.NewFromInt(10)}),
		swarm.NewWallet("w2", map[string]decimal.Decimal{"USDC": decimal.NewFromInt(300), "WIF": decimal.NewFromInt(30)}),
	)
}

type fixture struct {
	orch   *Orchestrator
	sub    *recordingSubmitter
	alerts *countingAlerter
}

func newFixture(t *testing.T, market MarketSource, deps Deps) *fixture {
	t.Helper()
	f := &fixture{sub: &recordingSubmitter{}, alerts: &countingAlerter{}}
	deps.Market = market
	deps.Allocator = swarm.NewAllocator(testSwarm(), 0, 8, zerolog.Nop())
	if deps.Executor == nil {
		deps.Executor = f.sub
	}
	deps.Alerts = f.alerts
	f.orch = New(deps, Options{RetryAttempts: 3, FetchTimeout: 100 * time.Millisecond, OracleTimeout: 100 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.orch.Shutdown(ctx)
	})
	return f
}

func testSpec(id string, orc oracle.Oracle) Spec {
	return Spec{
		ID:        id,
		Asset:     "WIF",
		Quote:     "USDC",
		Symbol:    "WIFUSDC",
		Interval:  time.Millisecond,
		OrderSize: decimal.NewFromInt(10),
		Oracle:    orc,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateIs(o *Orchestrator, id string, want State) func() bool {
	return func() bool {
		st, err := o.Status(id)
		return err == nil && st.State == want
	}
}

func TestTransientFailuresStopAfterRetryAttempts(t *testing.T) {
	var calls atomic.Int32
	market := marketFunc(func(ctx context.Context, symbol string) (signal.MarketData, error) {
		calls.Add(1)
		return signal.MarketData{}, fmt.Errorf("%w: feed down", exception.ErrTransientFetch)
	})
	f := newFixture(t, market, Deps{})
	if _, err := f.orch.Register(testSpec("s1", alwaysBuy())); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.orch.Start("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "stopped", stateIs(f.orch, "s1", Stopped))

	st, _ := f.orch.Status("s1")
	if st.Failures != 3 || st.Cycles != 3 {
		t.Fatalf("expected 3 failures over 3 cycles, got %+v", st)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 fetches, got %d", got)
	}
	events := f.alerts.list()
	if len(events) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(events))
	}
	if events[0].Strategy != "s1" || events[0].Kind != "transient_fetch" {
		t.Fatalf("unexpected alert %+v", events[0])
	}
	if f.sub.count() != 0 {
		t.Fatalf("no orders expected")
	}
}

func TestOracleTimeoutHoldsAndCountsTransient(t *testing.T) {
	slow := oracle.Func(func(ctx context.Context, f signal.Features) (signal.Decision, error) {
		<-ctx.Done()
		return signal.Decision{Action: signal.Buy, Confidence: 1}, ctx.Err()
	})
	f := newFixture(t, steadyMarket(2), Deps{})
	if _, err := f.orch.Register(testSpec("s1", slow)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.orch.Start("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "stopped", stateIs(f.orch, "s1", Stopped))

	st, _ := f.orch.Status("s1")
	if st.Failures != 3 || st.LastOutcome != OutcomeOracleFailed {
		t.Fatalf("expected 3 oracle timeouts, got %+v", st)
	}
	if f.sub.count() != 0 {
		t.Fatalf("a timed out oracle must not trade, got %d orders", f.sub.count())
	}
	if events := f.alerts.list(); len(events) != 1 || events[0].Kind != "transient_fetch" {
		t.Fatalf("expected exactly one transient alert, got %+v", events)
	}
}

func TestShutdownDuringFetchIsNotAFailure(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	market := marketFunc(func(ctx context.Context, symbol string) (signal.MarketData, error) {
		if calls.Add(1) < 3 {
			return signal.MarketData{}, fmt.Errorf("%w: feed down", exception.ErrTransientFetch)
		}
		close(entered)
		<-ctx.Done()
		return signal.MarketData{}, fmt.Errorf("%w: %v", exception.ErrTransientFetch, ctx.Err())
	})
	f := newFixture(t, market, Deps{})
	f.orch.Register(testSpec("s1", alwaysBuy()))
	f.orch.Start("s1")
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.orch.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	st, _ := f.orch.Status("s1")
	if st.State != Stopped || st.Failures != 2 {
		t.Fatalf("interrupted fetch should not count, got %+v", st)
	}
	if events := f.alerts.list(); len(events) != 0 {
		t.Fatalf("operator shutdown must not alert, got %+v", events)
	}
}

func TestRepeatedWalletInSpecStillTradesAndStops(t *testing.T) {
	f := newFixture(t, steadyMarket(2), Deps{})
	spec := testSpec("dup", alwaysBuy())
	spec.Wallets = []string{"w1", "w1"}
	f.orch.Register(spec)
	f.orch.Start("dup")
	waitFor(t, "a trade", func() bool { return f.sub.count() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := f.orch.Stop(ctx, "dup")
	if err != nil || st != Stopped {
		t.Fatalf("stop: %v %v", st, err)
	}
	f.sub.mu.Lock()
	first := f.sub.orders[0]
	f.sub.mu.Unlock()
	if first.Wallet != "w1" || !first.Size.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected the whole order on w1, got %+v", first)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t, steadyMarket(2), Deps{})
	if _, err := f.orch.Register(testSpec("s1", alwaysHold())); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.orch.Register(testSpec("s1", alwaysHold())); !errors.Is(err, exception.ErrDuplicateStrategy) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := f.orch.Start("nope"); !errors.Is(err, exception.ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy, got %v", err)
	}
	ctx := context.Background()
	if _, err := f.orch.Stop(ctx, "s1"); !errors.Is(err, exception.ErrInvalidTransition) {
		t.Fatalf("stop on idle should fail, got %v", err)
	}
	if _, err := f.orch.Pause("s1"); !errors.Is(err, exception.ErrInvalidTransition) {
		t.Fatalf("pause on idle should fail, got %v", err)
	}

	if st, err := f.orch.Start("s1"); err != nil || st != Running {
		t.Fatalf("start: %v %v", st, err)
	}
	if _, err := f.orch.Start("s1"); !errors.Is(err, exception.ErrInvalidTransition) {
		t.Fatalf("double start should fail, got %v", err)
	}
	if st, err := f.orch.Pause("s1"); err != nil || st != Paused {
		t.Fatalf("pause: %v %v", st, err)
	}
	if _, err := f.orch.Pause("s1"); !errors.Is(err, exception.ErrInvalidTransition) {
		t.Fatalf("double pause should fail, got %v", err)
	}
	if st, err := f.orch.Start("s1"); err != nil || st != Running {
		t.Fatalf("resume: %v %v", st, err)
	}
	if st, err := f.orch.Stop(ctx, "s1"); err != nil || st != Stopped {
		t.Fatalf("stop: %v %v", st, err)
	}
	if _, err := f.orch.Stop(ctx, "s1"); !errors.Is(err, exception.ErrInvalidTransition) {
		t.Fatalf("double stop should fail, got %v", err)
	}
	if _, err := f.orch.Start("s1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	st, _ := f.orch.Status("s1")
	if st.Run != 2 || st.State != Running {
		t.Fatalf("expected second run, got %+v", st)
	}
	if len(f.alerts.list()) != 0 {
		t.Fatalf("operator transitions must not alert")
	}
}

func TestPausedStrategyDoesNotCycle(t *testing.T) {
	var calls atomic.Int32
	market := marketFunc(func(ctx context.Context, symbol string) (signal.MarketData, error) {
		calls.Add(1)
		return signal.MarketData{Symbol: symbol, Price: 1, Timestamp: time.Now()}, nil
	})
	f := newFixture(t, market, Deps{})
	f.orch.Register(testSpec("s1", alwaysHold()))
	f.orch.Start("s1")
	waitFor(t, "first cycle", func() bool { return calls.Load() > 0 })
	f.orch.Pause("s1")
	time.Sleep(10 * time.Millisecond)
	before := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Fatalf("paused strategy kept fetching: %d -> %d", before, after)
	}
	f.orch.Start("s1")
	waitFor(t, "resumed cycles", func() bool { return calls.Load() > before })
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	sub := &recordingSubmitter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := newFixture(t, steadyMarket(2), Deps{Executor: sub})
	spec := testSpec("s1", alwaysBuy())
	spec.Wallets = []string{"w1"}
	f.orch.Register(spec)
	f.orch.Start("s1")

	select {
	case <-sub.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("submission never started")
	}

	stopped := make(chan State, 1)
	go func() {
		st, _ := f.orch.Stop(context.Background(), "s1")
		stopped <- st
	}()
	select {
	case <-stopped:
		t.Fatalf("stop returned before the in-flight cycle finished")
	case <-time.After(30 * time.Millisecond):
	}
	close(sub.block)
	select {
	case st := <-stopped:
		if st != Stopped {
			t.Fatalf("expected stopped, got %s", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop never returned")
	}
	if sub.count() < 1 {
		t.Fatalf("in-flight submission was dropped")
	}
}

func TestSkipsResetFailureCounter(t *testing.T) {
	var calls atomic.Int32
	market := marketFunc(func(ctx context.Context, symbol string) (signal.MarketData, error) {
		n := calls.Add(1)
		if n%3 != 0 {
			return signal.MarketData{}, fmt.Errorf("%w: flaky", exception.ErrTransientFetch)
		}
		return signal.MarketData{Symbol: symbol, Price: 1, Timestamp: time.Now()}, nil
	})
	denied := policyFunc(func(asset string, requireGreenlist bool) error {
		return fmt.Errorf("%w: %s", exception.ErrListDenied, asset)
	})
	f := newFixture(t, market, Deps{Lists: denied})
	f.orch.Register(testSpec("s1", alwaysBuy()))
	f.orch.Start("s1")
	waitFor(t, "several cycles", func() bool { return calls.Load() >= 9 })

	st, _ := f.orch.Status("s1")
	if st.State != Running {
		t.Fatalf("list skips should reset the failure run, got %+v", st)
	}
	if len(f.alerts.list()) != 0 || f.sub.count() != 0 {
		t.Fatalf("no alerts or orders expected")
	}
}

func TestSafetySkipDoesNotTrade(t *testing.T) {
	f := newFixture(t, steadyMarket(1), Deps{Safety: stubGate{err: exception.ErrBreakerTripped}})
	f.orch.Register(testSpec("s1", alwaysBuy()))
	f.orch.Start("s1")
	waitFor(t, "safety skip", func() bool {
		st, _ := f.orch.Status("s1")
		return st.LastOutcome == OutcomeSafetySkip
	})
	if f.sub.count() != 0 {
		t.Fatalf("tripped breaker must block orders")
	}
}

func TestExecutionErrorStopsStrategy(t *testing.T) {
	sub := &recordingSubmitter{err: fmt.Errorf("%w: venue rejected", exception.ErrExecution)}
	f := newFixture(t, steadyMarket(2), Deps{Executor: sub})
	f.orch.Register(testSpec("s1", alwaysBuy()))
	f.orch.Start("s1")
	waitFor(t, "stopped", stateIs(f.orch, "s1", Stopped))

	st, _ := f.orch.Status("s1")
	if st.LastOutcome != OutcomeExecutionFailed || st.Cycles != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	events := f.alerts.list()
	if len(events) != 1 || events[0].Kind != "execution" {
		t.Fatalf("expected one execution alert, got %+v", events)
	}
}

func TestOraclePanicStopsStrategy(t *testing.T) {
	boom := oracle.Func(func(ctx context.Context, f signal.Features) (signal.Decision, error) {
		panic("model exploded")
	})
	f := newFixture(t, steadyMarket(2), Deps{})
	f.orch.Register(testSpec("s1", boom))
	f.orch.Start("s1")
	waitFor(t, "stopped", stateIs(f.orch, "s1", Stopped))
	st, _ := f.orch.Status("s1")
	if st.LastOutcome != OutcomePanic {
		t.Fatalf("expected panic outcome, got %+v", st)
	}
	if len(f.alerts.list()) != 1 {
		t.Fatalf("expected one alert")
	}
}

func TestFixedSizeSplitAcrossWallets(t *testing.T) {
	f := newFixture(t, steadyMarket(2), Deps{})
	f.orch.Register(testSpec("s1", alwaysBuy()))
	f.orch.Start("s1")
	waitFor(t, "a trade", func() bool { return f.sub.count() >= 2 })
	f.orch.Stop(context.Background(), "s1")

	f.sub.mu.Lock()
	first, second := f.sub.orders[0], f.sub.orders[1]
	f.sub.mu.Unlock()
	if !first.Size.Add(second.Size).Equal(decimal.NewFromInt(10)) || first.Wallet == second.Wallet {
		t.Fatalf("expected 10 split over two wallets, got %+v %+v", first, second)
	}
	if first.StrategyID != "s1" || first.Side != execution.Buy {
		t.Fatalf("unexpected order %+v", first)
	}
}

func TestDCASizing(t *testing.T) {
	f := newFixture(t, steadyMarket(2), Deps{})
	spec := testSpec("dca", alwaysBuy())
	spec.Sizing = DCA
	spec.DCAFraction = decimal.RequireFromString("0.1")

	buy, err := f.orch.size(spec, execution.Buy, 2)
	if err != nil || !buy.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("dca buy: %s %v", buy, err)
	}
	sell, err := f.orch.size(spec, execution.Sell, 2)
	if err != nil || !sell.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("dca sell: %s %v", sell, err)
	}

	f.orch.deps.Risk.MaxNotionalPerTrade = 25
	capped, _ := f.orch.size(spec, execution.Buy, 2)
	if !capped.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected cap at 25, got %s", capped)
	}
}

type stubPumplist struct {
	entries []lists.Entry
	passes  atomic.Int32
}

func (p *stubPumplist) GetPumplist() ([]lists.Entry, error) { return p.entries, nil }

func (p *stubPumplist) ApplyPumplistLogic(ctx context.Context) ([]lists.PumplistAction, error) {
	p.passes.Add(1)
	out := make([]lists.PumplistAction, len(p.entries))
	for i, e := range p.entries {
		out[i] = lists.PumplistAction{Asset: e.Identifier, MarketMade: true}
	}
	return out, nil
}

func TestOverridePumplist(t *testing.T) {
	pump := &stubPumplist{}
	f := newFixture(t, steadyMarket(1), Deps{Pumplist: pump})
	f.orch.Register(testSpec("s1", alwaysHold()))

	st, report, err := f.orch.OverridePumplist(context.Background(), "s1")
	if err != nil || st != Idle || report != nil || pump.passes.Load() != 0 {
		t.Fatalf("empty pumplist should be a no-op: %v %v %v", st, report, err)
	}

	pump.entries = []lists.Entry{{Identifier: "WIF", List: lists.Pumplist, Active: true}}
	_, report, err = f.orch.OverridePumplist(context.Background(), "s1")
	if err != nil || len(report) != 1 || !report[0].MarketMade {
		t.Fatalf("override: %+v %v", report, err)
	}
	if _, _, err := f.orch.OverridePumplist(context.Background(), "ghost"); !errors.Is(err, exception.ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy, got %v", err)
	}
}

func TestMarketMakerBuysAcrossSwarm(t *testing.T) {
	sub := &recordingSubmitter{}
	alloc := swarm.NewAllocator(testSwarm(), 0, 8, zerolog.Nop())
	mm := NewMarketMaker(alloc, sub, "USDC", nil, swarm.Equal, zerolog.Nop())
	if err := mm.MakeMarket(context.Background(), "BONK", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("make market: %v", err)
	}
	if sub.count() != 2 || !sub.total().Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected 50 across two wallets, got %d orders totalling %s", sub.count(), sub.total())
	}
	for _, o := range sub.orders {
		if o.Asset != "BONK" || o.Side != execution.Buy || o.StrategyID != PumplistStrategyID {
			t.Fatalf("unexpected order %+v", o)
		}
	}
}

func TestShutdownStopsRunningStrategies(t *testing.T) {
	f := newFixture(t, steadyMarket(1), Deps{})
	f.orch.Register(testSpec("a", alwaysHold()))
	f.orch.Register(testSpec("b", alwaysHold()))
	f.orch.Start("a")
	f.orch.Start("b")
	f.orch.Pause("b")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.orch.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, st := range f.orch.Snapshot() {
		if st.State != Stopped {
			t.Fatalf("%s left in %s", st.ID, st.State)
		}
	}
	if _, err := f.orch.Start("a"); !errors.Is(err, exception.ErrInvalidTransition) {
		t.Fatalf("start after shutdown should fail, got %v", err)
	}
}
