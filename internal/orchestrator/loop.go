package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/panics"

	"swarmbot-go/internal/alert"
	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/metrics"
	"swarmbot-go/internal/safety"
	"swarmbot-go/internal/signal"
	"swarmbot-go/internal/swarm"
)

// Cycle outcomes.
const (
	OutcomeTraded          = "traded"
	OutcomeHold            = "hold"
	OutcomeFetchFailed     = "fetch_failed"
	OutcomeOracleFailed    = "oracle_failed"
	OutcomeSafetySkip      = "safety_skip"
	OutcomeListSkip        = "list_skip"
	OutcomeAllocationSkip  = "allocation_skip"
	OutcomeExecutionFailed = "execution_failed"
	OutcomePanic           = "panic"
)

func (o *Orchestrator) loop(b *bot, run int) {
	log := o.log.With().Str("strategy", b.spec.ID).Int("run", run).Logger()
	for {
		if !o.awaitRunnable(b) {
			o.finish(b, log)
			return
		}
		outcome, err := o.safeCycle(b, log)
		if o.record(b, outcome, err, log) {
			return
		}
		if !o.pause(b, b.spec.Interval) {
			o.finish(b, log)
			return
		}
	}
}

// awaitRunnable blocks while the strategy is paused. It returns false once a stop is requested.
func (o *Orchestrator) awaitRunnable(b *bot) bool {
	for {
		b.mu.Lock()
		if b.stopReq || o.ctx.Err() != nil {
			b.mu.Unlock()
			return false
		}
		if b.state == Running {
			b.mu.Unlock()
			return true
		}
		wake := b.wake
		b.mu.Unlock()
		select {
		case <-wake:
		case <-o.ctx.Done():
			return false
		}
	}
}

// pause sleeps for one interval. A wake cuts the sleep short so stop and pause apply promptly.
func (o *Orchestrator) pause(b *bot, d time.Duration) bool {
	b.mu.Lock()
	wake := b.wake
	b.mu.Unlock()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-wake:
	case <-o.ctx.Done():
		return false
	}
	return true
}

func (o *Orchestrator) finish(b *bot, log zerolog.Logger) {
	b.mu.Lock()
	b.state = Stopped
	b.stopReq = false
	b.stoppedAt = time.Now().UTC()
	close(b.done)
	cycles := b.cycles
	b.mu.Unlock()
	metrics.StrategyState.WithLabelValues(b.spec.ID).Set(float64(Stopped))
	log.Info().Int64("cycles", cycles).Msg("strategy stopped")
}

// record applies a cycle's result. It returns true when the failure policy stopped the strategy.
func (o *Orchestrator) record(b *bot, outcome string, err error, log zerolog.Logger) bool {
	metrics.CyclesTotal.WithLabelValues(b.spec.ID, outcome).Inc()

	b.mu.Lock()
	b.cycles++
	b.lastOutcome = outcome
	var reason string
	switch {
	case errors.Is(err, exception.ErrTransientFetch) && (b.stopReq || o.ctx.Err() != nil):
		// A stop or shutdown cut the cycle short; that is not a market failure.
		b.lastErr = err.Error()
		log.Debug().Err(err).Msg("cycle interrupted by stop")
	case err == nil:
		b.failures = 0
		b.lastErr = ""
	case errors.Is(err, exception.ErrTransientFetch):
		b.failures++
		b.lastErr = err.Error()
		log.Warn().Err(err).Int("consecutive", b.failures).Int("limit", o.opts.RetryAttempts).Msg("transient failure")
		if b.failures >= o.opts.RetryAttempts {
			reason = fmt.Sprintf("%d consecutive transient failures", b.failures)
		}
	default:
		b.lastErr = err.Error()
		reason = "execution failure"
	}
	if reason == "" {
		b.mu.Unlock()
		return false
	}
	b.state = Stopped
	b.stopReq = false
	b.stoppedAt = time.Now().UTC()
	close(b.done)
	b.mu.Unlock()

	metrics.StrategyState.WithLabelValues(b.spec.ID).Set(float64(Stopped))
	log.Error().Err(err).Str("reason", reason).Msg("strategy stopped by failure policy")
	ev := alert.Event{Strategy: b.spec.ID, Kind: exception.Kind(err), Message: "strategy stopped: " + reason, Err: err, At: time.Now().UTC()}
	actx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), 5*time.Second)
	defer cancel()
	if aerr := o.deps.Alerts.Critical(actx, ev); aerr != nil {
		log.Error().Err(aerr).Msg("critical alert delivery failed")
	}
	return true
}

// safeCycle runs one cycle, converting a panic into an execution failure.
func (o *Orchestrator) safeCycle(b *bot, log zerolog.Logger) (outcome string, err error) {
	var pc panics.Catcher
	pc.Try(func() { outcome, err = o.cycle(b, log) })
	if r := pc.Recovered(); r != nil {
		return OutcomePanic, fmt.Errorf("%w: cycle panicked: %v", exception.ErrExecution, r.AsError())
	}
	return outcome, err
}

// cycle is one fetch, decide, check, size, execute pass. Skips are outcomes, not errors;
// only transient fetch failures and execution failures are returned.
func (o *Orchestrator) cycle(b *bot, log zerolog.Logger) (string, error) {
	spec := b.spec

	fctx, cancel := context.WithTimeout(o.ctx, o.opts.FetchTimeout)
	md, err := o.deps.Market.Latest(fctx, spec.Symbol)
	cancel()
	if err != nil {
		if !errors.Is(err, exception.ErrTransientFetch) {
			err = fmt.Errorf("%w: %s: %v", exception.ErrTransientFetch, spec.Symbol, err)
		}
		return OutcomeFetchFailed, err
	}

	obs := safety.Observation{}
	if o.deps.Safety != nil {
		obs = o.deps.Safety.Observe(md)
	}

	features := signal.Features{
		Symbol: md.Symbol,
		Ts:     md.Timestamp,
		Values: map[string]float64{
			signal.FeaturePrice:       md.Price,
			signal.FeatureVolume:      md.Volume,
			signal.FeaturePriceChange: obs.PriceChange,
			signal.FeatureVolumeSpike: obs.VolumeSpike,
		},
	}
	octx, cancel := context.WithTimeout(o.ctx, o.opts.OracleTimeout)
	decision, err := spec.Oracle.Decide(octx, features)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("oracle unavailable, holding")
		return OutcomeOracleFailed, fmt.Errorf("%w: oracle: %v", exception.ErrTransientFetch, err)
	}

	opp := signal.Opportunity{Asset: spec.Asset, Action: decision.Action, Confidence: decision.Confidence, Spread: obs.PriceChange}
	if !opp.Actionable() || !o.deps.Risk.AllowDecision(decision) {
		log.Debug().Str("action", decision.Action.String()).Float64("confidence", decision.Confidence).Msg("hold")
		return OutcomeHold, nil
	}

	if o.deps.Safety != nil {
		if err := o.deps.Safety.Check(o.ctx, spec.Asset); err != nil {
			log.Warn().Err(err).Str("action", opp.Action.String()).Msg("trade skipped by safety")
			return OutcomeSafetySkip, nil
		}
	}
	if o.deps.Lists != nil {
		if err := o.deps.Lists.Permit(spec.Asset, spec.RequireGreenlist); err != nil {
			log.Warn().Err(err).Msg("trade skipped by list policy")
			return OutcomeListSkip, nil
		}
	}

	side := execution.Buy
	if decision.Action == signal.Sell {
		side = execution.Sell
	}
	size, err := o.size(spec, side, md.Price)
	if err != nil || !size.IsPositive() {
		log.Warn().Err(err).Str("size", size.String()).Msg("nothing to allocate")
		return OutcomeAllocationSkip, nil
	}

	log.Info().
		Str("side", string(side)).
		Float64("confidence", opp.Confidence).
		Float64("spread", opp.Spread).
		Str("size", size.String()).
		Msg("executing opportunity")

	xctx := context.WithoutCancel(o.ctx)
	req := swarm.Request{Asset: spec.Asset, Total: size, Wallets: spec.Wallets, Policy: spec.Policy, WeightAsset: spec.Quote}
	if side == execution.Sell {
		req.WeightAsset = spec.Asset
	}
	_, err = o.deps.Allocator.Execute(xctx, req, func(ctx context.Context, w *swarm.Wallet, slice decimal.Decimal) error {
		order := execution.NewOrder(spec.ID, spec.Asset, spec.Quote, side, slice, w.Address)
		_, err := o.deps.Executor.Submit(ctx, order, w)
		return err
	})
	switch {
	case err == nil:
		return OutcomeTraded, nil
	case errors.Is(err, exception.ErrExecution):
		return OutcomeExecutionFailed, err
	case errors.Is(err, exception.ErrWalletAllocation):
		log.Warn().Err(err).Msg("allocation rejected")
		return OutcomeAllocationSkip, nil
	default:
		return OutcomeExecutionFailed, fmt.Errorf("%w: %v", exception.ErrExecution, err)
	}
}

// size computes the quote notional for one cycle, clamped to the per-trade cap.
func (o *Orchestrator) size(spec Spec, side execution.Side, price float64) (decimal.Decimal, error) {
	var size decimal.Decimal
	switch spec.Sizing {
	case DCA:
		sw := o.deps.Allocator.Swarm()
		if side == execution.Buy {
			bal, err := sw.TotalBalance(spec.Quote, spec.Wallets)
			if err != nil {
				return decimal.Zero, err
			}
			size = bal.Mul(spec.DCAFraction)
		} else {
			bal, err := sw.TotalBalance(spec.Asset, spec.Wallets)
			if err != nil {
				return decimal.Zero, err
			}
			size = bal.Mul(decimal.NewFromFloat(price)).Mul(spec.DCAFraction)
		}
	default:
		size = spec.OrderSize
	}
	if capped := o.deps.Risk.Cap(size.InexactFloat64()); !o.deps.Risk.Allow(size.InexactFloat64()) {
		size = decimal.NewFromFloat(capped)
	}
	return size.Round(swarm.DefaultPrecision), nil
}
