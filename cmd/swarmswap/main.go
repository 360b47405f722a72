// Binary swarmswap sends one Jupiter swap split across the configured swarm wallets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"swarmbot-go/internal/config"
	dex "swarmbot-go/internal/dex/solana"
	"swarmbot-go/internal/execution"
	"swarmbot-go/internal/journal"
	"swarmbot-go/internal/swarm"
	"swarmbot-go/internal/util"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	asset := flag.String("asset", "", "asset symbol to trade (must have a mint in dex.mints)")
	sideFlag := flag.String("side", "buy", "buy or sell")
	sizeFlag := flag.String("size", "", "total quote notional to split across wallets")
	walletsFlag := flag.String("wallets", "", "comma-separated wallet addresses (default: every key in the keyring)")
	policyFlag := flag.String("policy", "", "equal or balance_weighted (default: swarm.policy)")
	dryRun := flag.Bool("dry-run", false, "print the split without sending")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	config.ApplyEnv(cfg)
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", "swarmswap").Logger()

	if *asset == "" || *sizeFlag == "" {
		log.Fatal().Msg("-asset and -size are required")
	}
	side, err := execution.ParseSide(*sideFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("side")
	}
	size, err := decimal.NewFromString(*sizeFlag)
	if err != nil || !size.IsPositive() {
		log.Fatal().Str("size", *sizeFlag).Msg("size must be a positive number")
	}
	policyName := cfg.Swarm.Policy
	if *policyFlag != "" {
		policyName = *policyFlag
	}
	policy, err := swarm.ParsePolicy(policyName)
	if err != nil {
		log.Fatal().Err(err).Msg("policy")
	}

	keys, err := dex.LoadKeyring(cfg.Wallet.PrivateKeysEnv)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet keys")
	}
	addrs := keys.Addresses()
	if *walletsFlag != "" {
		addrs = nil
		for _, a := range strings.Split(*walletsFlag, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
	}

	quote := strings.ToUpper(cfg.Swarm.QuoteAsset)
	sw := swarm.New()
	for _, addr := range addrs {
		if _, ok := keys.Signer(addr); !ok {
			log.Fatal().Str("wallet", addr).Msg("no signing key for wallet")
		}
		bal := make(map[string]decimal.Decimal)
		for k, v := range cfg.Swarm.Balances[addr] {
			bal[strings.ToUpper(k)] = decimal.NewFromFloat(v)
		}
		sw.Add(swarm.NewWallet(addr, bal))
	}
	alloc := swarm.NewAllocator(sw, config.Millis(cfg.Swarm.StaggerMs, 0), cfg.Swarm.Precision, log)
	req := swarm.Request{Asset: strings.ToUpper(*asset), Total: size, Wallets: addrs, Policy: policy, WeightAsset: quote}
	if side == execution.Sell {
		req.WeightAsset = req.Asset
	}

	plan, err := alloc.Plan(req)
	if err != nil {
		log.Fatal().Err(err).Msg("plan")
	}
	for _, sl := range plan {
		fmt.Printf("%-44s %s %s %s\n", sl.Wallet, side, sl.Size.String(), quote)
	}
	if *dryRun {
		return
	}

	store, err := journal.NewJSONL(cfg.Journal.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("journal")
	}
	defer store.Close()

	client := dex.NewJupiterClient(cfg.Dex.RpcURL, cfg.Dex.JupiterBase, cfg.Dex.Commitment)
	boundary := dex.NewSwapBoundary(client, keys, dex.TokensFromConfig(cfg.Dex.Mints, cfg.Dex.Decimals), quote, cfg.Dex.SlippageBps, log)
	exec := execution.NewExecutor(boundary, store, execution.Options{
		MaxRetries: cfg.Execution.MaxRetries,
		BackoffMin: config.Millis(cfg.Execution.BackoffMinMs, 100*time.Millisecond),
		BackoffMax: config.Millis(cfg.Execution.BackoffMaxMs, 2*time.Second),
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var fills []execution.Fill
	_, err = alloc.Execute(ctx, req, func(ctx context.Context, w *swarm.Wallet, slice decimal.Decimal) error {
		order := execution.NewOrder("swarmswap", req.Asset, quote, side, slice, w.Address)
		fill, err := exec.Submit(ctx, order, w)
		if err == nil {
			fills = append(fills, fill)
		}
		return err
	})
	for _, f := range fills {
		log.Info().Str("wallet", f.Wallet).Str("qty", f.Qty.String()).Str("price", f.Price.String()).Str("tx", f.TxRef).Msg("slice filled")
	}
	if err != nil {
		log.Error().Err(err).Int("filled", len(fills)).Int("planned", len(plan)).Msg("swap stopped")
		store.Close()
		os.Exit(1)
	}
}
