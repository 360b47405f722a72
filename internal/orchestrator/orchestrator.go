package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"swarmbot-go/internal/alert"
	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/lists"
	"swarmbot-go/internal/metrics"
	"swarmbot-go/internal/risk"
	"swarmbot-go/internal/safety"
	"swarmbot-go/internal/signal"
	"swarmbot-go/internal/swarm"
	"swarmbot-go/internal/util"
)

// MarketSource answers the latest market data for a symbol.
type MarketSource interface {
	Latest(ctx context.Context, symbol string) (signal.MarketData, error)
}

// SafetyGate is the pre-trade safety decision.
type SafetyGate interface {
	Observe(md signal.MarketData) safety.Observation
	Check(ctx context.Context, asset string) error
}

// ListPolicy applies list membership to a trade.
type ListPolicy interface {
	Permit(asset string, requireGreenlist bool) error
}

// Allocator spreads an order across wallets.
type Allocator interface {
	Execute(ctx context.Context, req swarm.Request, submit swarm.SubmitFunc) ([]swarm.Outcome, error)
	Swarm() *swarm.Swarm
}

// Submitter sends one order slice.
type Submitter interface {
	Submit(ctx context.Context, order execution.Order, wallet *swarm.Wallet) (execution.Fill, error)
}

// PumplistRunner is the pumplist side of the list governor.
type PumplistRunner interface {
	GetPumplist() ([]lists.Entry, error)
	ApplyPumplistLogic(ctx context.Context) ([]lists.PumplistAction, error)
}

// Deps are the collaborators shared by every strategy.
type Deps struct {
	Market    MarketSource
	Safety    SafetyGate
	Lists     ListPolicy
	Allocator Allocator
	Executor  Submitter
	Pumplist  PumplistRunner
	Alerts    alert.Alerter
	Risk      risk.Limits
}

// Options bound the control loop.
type Options struct {
	RetryAttempts int
	FetchTimeout  time.Duration
	OracleTimeout time.Duration
}

type bot struct {
	spec Spec

	mu          sync.Mutex
	state       State
	stopReq     bool
	run         int
	cycles      int64
	failures    int
	lastOutcome string
	lastErr     string
	startedAt   time.Time
	stoppedAt   time.Time
	wake        chan struct{}
	done        chan struct{}
}

// signal wakes the loop if it is sleeping or paused. Callers hold b.mu.
func (b *bot) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *bot) snapshot() Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Strategy{
		ID:          b.spec.ID,
		Pair:        b.spec.Pair(),
		Interval:    b.spec.Interval.String(),
		State:       b.state,
		Run:         b.run,
		Cycles:      b.cycles,
		Failures:    b.failures,
		LastOutcome: b.lastOutcome,
		LastError:   b.lastErr,
		StartedAt:   b.startedAt,
		StoppedAt:   b.stoppedAt,
	}
}

// Orchestrator is the single owner of strategy state and the only component allowed to stop one.
type Orchestrator struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu     sync.Mutex
	bots   map[string]*bot
	closed bool

	pumpMu sync.Mutex
}

// New builds an orchestrator with no strategies registered.
func New(deps Deps, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 2 * time.Second
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = time.Second
	}
	if deps.Alerts == nil {
		deps.Alerts = alert.NewLog(log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		log:    util.Component(log, "orchestrator"),
		ctx:    ctx,
		cancel: cancel,
		bots:   make(map[string]*bot),
	}
}

// Register adds a strategy in the Idle state.
func (o *Orchestrator) Register(spec Spec) (Strategy, error) {
	if err := spec.validate(); err != nil {
		return Strategy{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.bots[spec.ID]; exists {
		return Strategy{}, fmt.Errorf("%w: %s", exception.ErrDuplicateStrategy, spec.ID)
	}
	b := &bot{spec: spec, state: Idle}
	o.bots[spec.ID] = b
	metrics.StrategyState.WithLabelValues(spec.ID).Set(float64(Idle))
	o.log.Info().Str("strategy", spec.ID).Str("pair", spec.Pair()).Dur("interval", spec.Interval).Msg("strategy registered")
	return b.snapshot(), nil
}

func (o *Orchestrator) get(id string) (*bot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.bots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", exception.ErrUnknownStrategy, id)
	}
	return b, nil
}

// Start runs an Idle or Stopped strategy, or resumes a Paused one. Starting a Stopped strategy
// begins a fresh run with cleared counters.
func (o *Orchestrator) Start(id string) (State, error) {
	b, err := o.get(id)
	if err != nil {
		return Idle, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Running:
		return Running, fmt.Errorf("%w: %s is already running", exception.ErrInvalidTransition, id)
	case Paused:
		b.state = Running
		b.signal()
		metrics.StrategyState.WithLabelValues(id).Set(float64(Running))
		o.log.Info().Str("strategy", id).Msg("strategy resumed")
		return Running, nil
	}

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return b.state, fmt.Errorf("%w: %s: orchestrator is shut down", exception.ErrInvalidTransition, id)
	}

	b.run++
	b.state = Running
	b.stopReq = false
	b.cycles = 0
	b.failures = 0
	b.lastOutcome = ""
	b.lastErr = ""
	b.startedAt = time.Now().UTC()
	b.stoppedAt = time.Time{}
	b.wake = make(chan struct{}, 1)
	b.done = make(chan struct{})
	run := b.run
	o.wg.Go(func() { o.loop(b, run) })
	metrics.StrategyState.WithLabelValues(id).Set(float64(Running))
	o.log.Info().Str("strategy", id).Int("run", run).Msg("strategy started")
	return Running, nil
}

// Pause suspends a Running strategy at the top of its next cycle.
func (o *Orchestrator) Pause(id string) (State, error) {
	b, err := o.get(id)
	if err != nil {
		return Idle, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Running {
		return b.state, fmt.Errorf("%w: cannot pause %s while %s", exception.ErrInvalidTransition, id, b.state)
	}
	b.state = Paused
	metrics.StrategyState.WithLabelValues(id).Set(float64(Paused))
	o.log.Info().Str("strategy", id).Msg("strategy paused")
	return Paused, nil
}

// Stop asks a Running or Paused strategy to stop and waits until its current cycle finishes.
// In-flight submissions are never interrupted.
func (o *Orchestrator) Stop(ctx context.Context, id string) (State, error) {
	b, err := o.get(id)
	if err != nil {
		return Idle, err
	}
	b.mu.Lock()
	if b.state == Idle || b.state == Stopped {
		state := b.state
		b.mu.Unlock()
		return state, fmt.Errorf("%w: %s is not running", exception.ErrInvalidTransition, id)
	}
	b.stopReq = true
	b.signal()
	done := b.done
	b.mu.Unlock()
	o.log.Info().Str("strategy", id).Msg("stop requested, finishing current cycle")

	select {
	case <-done:
		return Stopped, nil
	case <-ctx.Done():
		return o.stateOf(b), fmt.Errorf("stop %s: %w", id, ctx.Err())
	}
}

func (o *Orchestrator) stateOf(b *bot) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns one strategy's snapshot.
func (o *Orchestrator) Status(id string) (Strategy, error) {
	b, err := o.get(id)
	if err != nil {
		return Strategy{}, err
	}
	return b.snapshot(), nil
}

// Snapshot returns every strategy ordered by id.
func (o *Orchestrator) Snapshot() []Strategy {
	o.mu.Lock()
	bots := make([]*bot, 0, len(o.bots))
	for _, b := range o.bots {
		bots = append(bots, b)
	}
	o.mu.Unlock()
	out := make([]Strategy, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OverridePumplist runs a pumplist pass on behalf of a strategy right away.
func (o *Orchestrator) OverridePumplist(ctx context.Context, id string) (State, []lists.PumplistAction, error) {
	b, err := o.get(id)
	if err != nil {
		return Idle, nil, err
	}
	state := o.stateOf(b)
	if o.deps.Pumplist == nil {
		return state, nil, fmt.Errorf("%w: pumplist is not configured", exception.ErrListGovernance)
	}
	entries, err := o.deps.Pumplist.GetPumplist()
	if err != nil {
		return state, nil, err
	}
	if len(entries) == 0 {
		o.log.Warn().Str("strategy", id).Msg("pumplist override requested with no active pumplist assets")
		return state, nil, nil
	}
	o.log.Info().Str("strategy", id).Int("assets", len(entries)).Msg("pumplist override")
	report, err := o.RunPumplist(ctx)
	return state, report, err
}

// RunPumplist performs one pumplist pass. Passes never overlap.
func (o *Orchestrator) RunPumplist(ctx context.Context) ([]lists.PumplistAction, error) {
	if o.deps.Pumplist == nil {
		return nil, nil
	}
	o.pumpMu.Lock()
	defer o.pumpMu.Unlock()
	return o.deps.Pumplist.ApplyPumplistLogic(ctx)
}

// RunPumplistLoop runs a pumplist pass every interval until ctx ends.
func (o *Orchestrator) RunPumplistLoop(ctx context.Context, interval time.Duration) {
	if o.deps.Pumplist == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := o.RunPumplist(ctx)
			if err != nil {
				o.log.Warn().Err(err).Msg("pumplist pass failed")
				continue
			}
			made, flagged := 0, 0
			for _, act := range report {
				if act.MarketMade {
					made++
				}
				if act.Flagged {
					flagged++
				}
			}
			o.log.Info().Int("assets", len(report)).Int("market_made", made).Int("flagged", flagged).Msg("pumplist pass")
		}
	}
}

// Shutdown stops every strategy and waits for their loops. In-flight cycles finish first.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	bots := make([]*bot, 0, len(o.bots))
	for _, b := range o.bots {
		bots = append(bots, b)
	}
	o.mu.Unlock()

	for _, b := range bots {
		b.mu.Lock()
		if b.state == Running || b.state == Paused {
			b.stopReq = true
			b.signal()
		}
		b.mu.Unlock()
	}
	o.cancel()

	waited := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
