package swarm

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"swarmbot-go/internal/util"
)

// Request asks the allocator to spread Total of Asset across Wallets.
type Request struct {
	Asset   string
	Total   decimal.Decimal
	Wallets []string
	Policy  Policy
	// WeightAsset is the balance used for BalanceWeighted splits.
	WeightAsset string
}

// SubmitFunc sends one slice. It runs while the allocator holds the wallet's lock.
type SubmitFunc func(ctx context.Context, w *Wallet, size decimal.Decimal) error

// Outcome is the result of one submitted slice.
type Outcome struct {
	Wallet string
	Size   decimal.Decimal
	Err    error
}

// Allocator serializes work per wallet and staggers submissions within one operation.
type Allocator struct {
	swarm     *Swarm
	stagger   time.Duration
	precision int32
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewAllocator spaces slice submissions by stagger and rounds slices to precision decimals.
func NewAllocator(s *Swarm, stagger time.Duration, precision int32, log zerolog.Logger) *Allocator {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return &Allocator{
		swarm:     s,
		stagger:   stagger,
		precision: precision,
		log:       util.Component(log, "swarm"),
		locks:     make(map[string]*semaphore.Weighted),
	}
}

// Swarm exposes the wallet registry behind the allocator.
func (a *Allocator) Swarm() *Swarm { return a.swarm }

func (a *Allocator) sem(addr string) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	sem, ok := a.locks[addr]
	if !ok {
		sem = semaphore.NewWeighted(1)
		a.locks[addr] = sem
	}
	return sem
}

// lock acquires every wallet once, in address order, so overlapping requests cannot deadlock.
func (a *Allocator) lock(ctx context.Context, addrs []string) (func(), error) {
	sorted := append([]string(nil), addrs...)
	sort.Strings(sorted)
	sorted = slices.Compact(sorted)
	held := make([]*semaphore.Weighted, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, addr := range sorted {
		sem := a.sem(addr)
		if err := sem.Acquire(ctx, 1); err != nil {
			release()
			return nil, fmt.Errorf("acquire wallet %s: %w", addr, err)
		}
		held = append(held, sem)
	}
	return release, nil
}

// Plan computes the split for req without locking or submitting.
func (a *Allocator) Plan(req Request) ([]Slice, error) {
	wallets, err := a.swarm.Resolve(req.Wallets)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(wallets))
	for i, w := range wallets {
		addrs[i] = w.Address
	}
	if req.Policy == BalanceWeighted && req.WeightAsset != "" {
		weights := make([]decimal.Decimal, len(wallets))
		for i, w := range wallets {
			weights[i] = w.Balance(req.WeightAsset)
		}
		return DistributeWeighted(req.Total, addrs, weights, a.precision)
	}
	return Distribute(req.Total, addrs, a.precision)
}

// Execute locks the request's wallets, splits the total and submits each slice in turn,
// waiting out the stagger between submissions. It stops at the first failed slice.
func (a *Allocator) Execute(ctx context.Context, req Request, submit SubmitFunc) ([]Outcome, error) {
	wallets, err := a.swarm.Resolve(req.Wallets)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(wallets))
	for i, w := range wallets {
		addrs[i] = w.Address
	}
	uniq, err := validate(req.Total, addrs)
	if err != nil {
		return nil, err
	}

	release, err := a.lock(ctx, uniq)
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := a.Plan(req)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if a.stagger > 0 {
		limit = rate.Every(a.stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	outcomes := make([]Outcome, 0, len(plan))
	for _, sl := range plan {
		if err := limiter.Wait(ctx); err != nil {
			return outcomes, fmt.Errorf("stagger wait: %w", err)
		}
		w, err := a.swarm.Get(sl.Wallet)
		if err != nil {
			return outcomes, err
		}
		err = submit(ctx, w, sl.Size)
		outcomes = append(outcomes, Outcome{Wallet: sl.Wallet, Size: sl.Size, Err: err})
		if err != nil {
			a.log.Warn().Err(err).Str("asset", req.Asset).Str("wallet", sl.Wallet).Str("size", sl.Size.String()).Msg("slice submission failed")
			return outcomes, err
		}
		a.log.Debug().Str("asset", req.Asset).Str("wallet", sl.Wallet).Str("size", sl.Size.String()).Msg("slice submitted")
	}
	return outcomes, nil
}
