// Binary swarmbot runs the multi-strategy trading daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"swarmbot-go/internal/app"
	"swarmbot-go/internal/config"
	"swarmbot-go/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	config.ApplyEnv(cfg)
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bot, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build")
	}
	defer bot.Close()

	log.Info().
		Str("venue", cfg.Execution.Venue).
		Str("feed", cfg.Exchange.Provider).
		Int("strategies", len(cfg.Strategies)).
		Int("wallets", len(bot.Swarm.Addresses())).
		Msg("swarmbot started")
	if err := bot.Run(ctx); err != nil {
		log.Error().Err(err).Msg("swarmbot stopped with error")
		bot.Close()
		os.Exit(1)
	}
}
