// Binary paper runs the bot against the paper venue with in-memory lists.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"

	"swarmbot-go/internal/app"
	"swarmbot-go/internal/config"
	"swarmbot-go/internal/util"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	config.ApplyEnv(cfg)
	cfg.Execution.Venue = "paper"
	cfg.Lists.Driver = "memory"
	if cfg.Journal.Driver == "postgres" {
		cfg.Journal.Driver = "jsonl"
	}
	log := util.NewLogger(cfg.App.LogLevel)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bot, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build")
	}
	defer bot.Close()

	log.Info().Str("feed", cfg.Exchange.Provider).Msg("paper engine started")
	if err := bot.Run(ctx); err != nil {
		log.Error().Err(err).Msg("paper engine stopped with error")
	}

	wallets := bot.Paper.Wallets()
	sort.Strings(wallets)
	for _, w := range wallets {
		snap := bot.Paper.Snapshot(w)
		log.Info().
			Str("wallet", w).
			Str("cash", snap.Cash.StringFixed(2)).
			Str("equity", snap.Equity.StringFixed(2)).
			Str("realized_pnl", snap.RealizedPnL.StringFixed(2)).
			Int("positions", len(snap.Positions)).
			Msg("paper account")
	}
	recent, err := bot.Journal.Recent(context.Background(), 10)
	if err == nil {
		for _, rec := range recent {
			log.Info().Str("order", rec.OrderID).Str("strategy", rec.StrategyID).Str("asset", rec.Asset).
				Str("side", rec.Side).Str("status", rec.Status).Str("size", rec.Size.String()).Msg("recent trade")
		}
	}
}
