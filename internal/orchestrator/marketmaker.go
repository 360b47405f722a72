package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/swarm"
	"swarmbot-go/internal/util"
)

// PumplistStrategyID tags orders issued by pumplist passes.
const PumplistStrategyID = "pumplist"

// MarketMaker tops up pumplist liquidity by buying the asset across the swarm.
type MarketMaker struct {
	alloc   Allocator
	exec    Submitter
	quote   string
	wallets []string
	policy  swarm.Policy
	log     zerolog.Logger
}

// NewMarketMaker spends quote from wallets (all when empty) under policy.
func NewMarketMaker(alloc Allocator, exec Submitter, quote string, wallets []string, policy swarm.Policy, log zerolog.Logger) *MarketMaker {
	return &MarketMaker{
		alloc:   alloc,
		exec:    exec,
		quote:   quote,
		wallets: wallets,
		policy:  policy,
		log:     util.Component(log, "marketmaker"),
	}
}

// MakeMarket buys size quote notional of asset. Submissions outlive ctx once started.
func (m *MarketMaker) MakeMarket(ctx context.Context, asset string, size decimal.Decimal) error {
	req := swarm.Request{Asset: asset, Total: size, Wallets: m.wallets, Policy: m.policy, WeightAsset: m.quote}
	outcomes, err := m.alloc.Execute(context.WithoutCancel(ctx), req, func(ctx context.Context, w *swarm.Wallet, slice decimal.Decimal) error {
		order := execution.NewOrder(PumplistStrategyID, asset, m.quote, execution.Buy, slice, w.Address)
		_, err := m.exec.Submit(ctx, order, w)
		return err
	})
	if err != nil {
		return fmt.Errorf("make market %s: %w", asset, err)
	}
	m.log.Info().Str("asset", asset).Str("size", size.String()).Int("slices", len(outcomes)).Msg("liquidity added")
	return nil
}
