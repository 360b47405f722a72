// Package app assembles the bot from configuration and runs it until the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"swarmbot-go/internal/alert"
	"swarmbot-go/internal/config"
	"swarmbot-go/internal/control"
	dex "swarmbot-go/internal/dex/solana"
	"swarmbot-go/internal/exchange"
	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/journal"
	"swarmbot-go/internal/lists"
	"swarmbot-go/internal/metrics"
	"swarmbot-go/internal/oracle"
	"swarmbot-go/internal/orchestrator"
	"swarmbot-go/internal/paper"
	"swarmbot-go/internal/risk"
	"swarmbot-go/internal/safety"
	"swarmbot-go/internal/signal"
	"swarmbot-go/internal/swarm"
)

// App is the wired bot.
type App struct {
	Config       *config.Config
	Dex          *exchange.DexScreenerClient
	Feed         *exchange.Feed
	Discovery    *exchange.DexScreenerDiscovery
	Cache        *exchange.MarketCache
	Governor     *lists.Governor
	Breaker      *safety.CircuitBreaker
	Gate         *safety.Gate
	Swarm        *swarm.Swarm
	Allocator    *swarm.Allocator
	Journal      journal.Store
	Executor     *execution.Executor
	Paper        *paper.Venue
	Orchestrator *orchestrator.Orchestrator
	Control      *control.Server

	log     zerolog.Logger
	closers []func() error
}

// Build wires every component from cfg. Stores are opened and migrated here.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.log

	var pool *pgxpool.Pool
	if cfg.Lists.Driver == "postgres" {
		var err error
		pool, err = openPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	}

	if err := a.buildLists(ctx, pool); err != nil {
		return err
	}
	if err := a.buildJournal(); err != nil {
		return err
	}
	a.buildMarket()
	a.buildSafety()

	quote := strings.ToUpper(cfg.Swarm.QuoteAsset)
	boundary, err := a.buildVenue(quote)
	if err != nil {
		return err
	}
	a.Executor = execution.NewExecutor(boundary, a.Journal, execution.Options{
		MaxRetries: cfg.Execution.MaxRetries,
		BackoffMin: config.Millis(cfg.Execution.BackoffMinMs, 100*time.Millisecond),
		BackoffMax: config.Millis(cfg.Execution.BackoffMaxMs, 2*time.Second),
	}, log)
	a.Allocator = swarm.NewAllocator(a.Swarm, config.Millis(cfg.Swarm.StaggerMs, 0), cfg.Swarm.Precision, log)

	policy, err := swarm.ParsePolicy(cfg.Swarm.Policy)
	if err != nil {
		return err
	}
	pools := exchange.NewDexScreenerPools(a.Dex, cfg.Exchange.DexScreener.DefaultChain, exchange.PoolOptions{})
	a.Governor.SetPumplistDeps(lists.PumplistDeps{
		Liquidity:   pools,
		Activity:    pools,
		MarketMaker: orchestrator.NewMarketMaker(a.Allocator, a.Executor, quote, cfg.Swarm.Wallets, policy, log),
		Parallelism: 4,
	})

	alerts, err := buildAlerts(cfg.Alerts, log)
	if err != nil {
		return err
	}
	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Market:    a.Cache,
		Safety:    a.Gate,
		Lists:     a.Governor,
		Allocator: a.Allocator,
		Executor:  a.Executor,
		Pumplist:  a.Governor,
		Alerts:    alerts,
		Risk:      risk.Limits{MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade, MinConfidence: cfg.Risk.MinConfidence},
	}, orchestrator.Options{
		RetryAttempts: cfg.Orchestrator.RetryAttempts,
		FetchTimeout:  config.Millis(cfg.Orchestrator.FetchTimeoutMs, 2*time.Second),
		OracleTimeout: config.Millis(cfg.Orchestrator.OracleTimeoutMs, time.Second),
	}, log)

	for _, sc := range cfg.Strategies {
		orc, err := oracle.Build(cfg.Oracle)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", sc.ID, err)
		}
		spec, err := orchestrator.SpecFromConfig(sc, policy, orc)
		if err != nil {
			return err
		}
		if spec.Quote != quote {
			return fmt.Errorf("strategy %s: quote %s differs from swarm quote %s", spec.ID, spec.Quote, quote)
		}
		if _, err := a.Orchestrator.Register(spec); err != nil {
			return err
		}
		if a.Paper != nil {
			a.Paper.Route(spec.Asset, spec.Symbol)
		}
	}

	a.Control = control.NewServer(a.Orchestrator, a.Governor, a.Breaker, log)
	return nil
}

func openPool(ctx context.Context, db config.Database) (*pgxpool.Pool, error) {
	if db.URL == "" {
		return nil, errors.New("database url required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if db.MaxConns > 0 {
		pcfg.MaxConns = db.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (a *App) buildLists(ctx context.Context, pool *pgxpool.Pool) error {
	var store lists.Store = lists.NewMemoryStore()
	if pool != nil {
		pg := lists.NewPGStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate lists: %w", err)
		}
		store = pg
	}
	a.Governor = lists.NewGovernor(store, a.log)
	return a.Governor.Load(ctx)
}

func (a *App) buildJournal() error {
	cfg := a.Config
	switch strings.ToLower(cfg.Journal.Driver) {
	case "memory":
		a.Journal = journal.NewLedger(0)
	case "postgres":
		g, err := journal.OpenGorm(journal.Option{ConnString: cfg.Database.URL})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, g.Close)
		a.Journal = g
	default:
		j, err := journal.NewJSONL(cfg.Journal.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, j.Close)
		a.Journal = j
	}
	return nil
}

func (a *App) buildMarket() {
	cfg := a.Config
	symbols := append([]string(nil), cfg.Exchange.Symbols...)
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		seen[s] = true
	}
	for _, sc := range cfg.Strategies {
		sym := sc.Symbol
		if sym == "" {
			if parts := strings.SplitN(sc.Pair, "/", 2); len(parts) == 2 {
				sym = strings.TrimSpace(parts[0]) + strings.ToUpper(strings.TrimSpace(parts[1]))
			}
		}
		if sym != "" && !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}

	ds := cfg.Exchange.DexScreener
	a.Dex = exchange.NewDexScreenerClient(ds.BaseURL, ds.RequestsPerMinute)
	a.Feed = exchange.NewFeed(cfg.Exchange.Provider, symbols, a.log,
		exchange.WithPollInterval(config.Millis(ds.PollInterval, time.Second)),
		exchange.WithStubInterval(config.Millis(cfg.Exchange.StubIntervalMs, 0)),
		exchange.WithDexScreener(a.Dex, ds.DefaultChain),
	)
	a.Discovery = exchange.NewDexScreenerDiscovery(a.log, a.Feed, a.Dex, symbols, ds.DefaultChain, cfg.Exchange.Discovery)
	a.Discovery.SetFilter(func(symbol, token string) bool {
		return a.Governor.Permit(token, false) == nil
	})
	a.Cache = exchange.NewMarketCache(time.Minute)
}

func (a *App) buildSafety() {
	cfg := a.Config.Safety
	a.Breaker = safety.NewCircuitBreaker(safety.Thresholds{MaxPriceChange: cfg.MaxPriceChange, MaxVolumeSpike: cfg.MaxVolumeSpike}, a.log)
	var rep safety.Reputation
	if cfg.ReputationURL != "" {
		rep = safety.NewHTTPReputation(cfg.ReputationURL, config.Millis(cfg.ReputationTimeoutMs, 2*time.Second))
	}
	poison := safety.NewPoisonChecker(a.Governor, rep, time.Duration(cfg.ReputationTTLSecs)*time.Second, cfg.ReputationCacheSize, a.log)
	a.Gate = safety.NewGate(a.Breaker, poison, safety.NewWindow(time.Duration(cfg.WindowSecs)*time.Second))
}

// buildVenue creates the swarm and the execution boundary. Paper wallets come from config;
// jupiter wallets come from the keyring.
func (a *App) buildVenue(quote string) (execution.Boundary, error) {
	cfg := a.Config
	switch strings.ToLower(cfg.Execution.Venue) {
	case "jupiter":
		keys, err := dex.LoadKeyring(cfg.Wallet.PrivateKeysEnv)
		if err != nil {
			return nil, fmt.Errorf("wallet keys: %w", err)
		}
		addrs := cfg.Swarm.Wallets
		if len(addrs) == 0 {
			addrs = keys.Addresses()
		}
		a.Swarm = swarm.New()
		for _, addr := range addrs {
			if _, ok := keys.Signer(addr); !ok {
				return nil, fmt.Errorf("wallet %s has no signing key", addr)
			}
			a.Swarm.Add(swarm.NewWallet(addr, balancesFor(cfg.Swarm.Balances[addr])))
		}
		client := dex.NewJupiterClient(cfg.Dex.RpcURL, cfg.Dex.JupiterBase, cfg.Dex.Commitment)
		tokens := dex.TokensFromConfig(cfg.Dex.Mints, cfg.Dex.Decimals)
		return dex.NewSwapBoundary(client, keys, tokens, quote, cfg.Dex.SlippageBps, a.log), nil
	case "paper", "":
		a.Paper = paper.NewVenue(a.Cache, cfg.Paper.StartingCash, cfg.Paper.MaxPositionPerSymbol, cfg.Paper.SlippageBps, a.log)
		a.Swarm = swarm.New()
		for _, addr := range cfg.Swarm.Wallets {
			bal := balancesFor(cfg.Swarm.Balances[addr])
			cash, ok := bal[quote]
			if !ok {
				cash = decimal.NewFromFloat(cfg.Paper.StartingCash)
				bal[quote] = cash
			}
			a.Paper.Seed(addr, cash)
			a.Swarm.Add(swarm.NewWallet(addr, bal))
		}
		return a.Paper, nil
	default:
		return nil, fmt.Errorf("unknown execution venue %q", cfg.Execution.Venue)
	}
}

func balancesFor(raw map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(raw))
	for asset, v := range raw {
		out[strings.ToUpper(asset)] = decimal.NewFromFloat(v)
	}
	return out
}

func buildAlerts(cfg config.Alerts, log zerolog.Logger) (alert.Alerter, error) {
	sinks := alert.Multi{alert.NewLog(log)}
	if cfg.Telegram {
		tg, err := alert.NewTelegram(cfg.BotToken, cfg.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram alerts: %w", err)
		}
		sinks = append(sinks, tg)
	}
	return sinks, nil
}

// Run starts market data, discovery, the pumplist loop and the operator surfaces, autostarts
// configured strategies and blocks until ctx ends. Strategies are stopped gracefully on exit.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	g, gctx := errgroup.WithContext(ctx)

	ticks := make(chan signal.Tick, 1024)
	g.Go(func() error {
		if err := a.Feed.Run(gctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("feed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.Cache.Run(gctx, ticks)
		return nil
	})
	a.Discovery.Start(gctx)
	g.Go(func() error {
		a.Orchestrator.RunPumplistLoop(gctx, config.Millis(cfg.Pumplist.IntervalMs, time.Minute))
		return nil
	})

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		a.log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if cfg.App.ControlAddr != "" {
		g.Go(func() error {
			if err := a.Control.Serve(gctx, cfg.App.ControlAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
	}

	for _, sc := range cfg.Strategies {
		if !sc.Autostart {
			continue
		}
		if _, err := a.Orchestrator.Start(sc.ID); err != nil {
			a.log.Error().Err(err).Str("strategy", sc.ID).Msg("autostart failed")
		}
	}

	<-gctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Orchestrator.Shutdown(sctx); err != nil {
		a.log.Error().Err(err).Msg("strategies did not stop in time")
	}
	err := g.Wait()
	a.log.Info().Msg("shutdown complete")
	return err
}

// Close releases stores opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
