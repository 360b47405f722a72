// Binary console is an interactive operator menu over the control API and the config file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"swarmbot-go/internal/config"
	"swarmbot-go/internal/control"
)

type console struct {
	reader  *bufio.Reader
	client  *control.Client
	cfg     *config.Config
	cfgPath string
}

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	addr := flag.String("api", "", "control API base URL (defaults to app.control_addr)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	base := *addr
	if base == "" {
		base = apiBase(cfg.App.ControlAddr)
	}
	c := &console{
		reader:  bufio.NewReader(os.Stdin),
		client:  control.NewClient(base, 0),
		cfg:     cfg,
		cfgPath: *cfgPath,
	}

	for {
		fmt.Println("\n=== Swarmbot Console ===")
		fmt.Println("1) Strategy status")
		fmt.Println("2) Start / stop / pause a strategy")
		fmt.Println("3) Pumplist override")
		fmt.Println("4) Show a list")
		fmt.Println("5) Add to a list")
		fmt.Println("6) Activate / deactivate a list entry")
		fmt.Println("7) Circuit breaker status")
		fmt.Println("8) Reset circuit breaker")
		fmt.Println("9) Show configuration summary")
		fmt.Println("10) Edit risk and safety knobs")
		fmt.Println("11) Save config")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		switch c.prompt() {
		case "1":
			c.showStrategies()
		case "2":
			c.lifecycle()
		case "3":
			c.pumplist()
		case "4":
			c.showList()
		case "5":
			c.addToList()
		case "6":
			c.setStatus()
		case "7":
			c.showBreaker()
		case "8":
			c.resetBreaker()
		case "9":
			printSummary(c.cfg)
		case "10":
			c.editRisk()
		case "11":
			if err := config.Save(c.cfgPath, c.cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved (restart the daemon to apply)")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func apiBase(listen string) string {
	if listen == "" {
		listen = ":8088"
	}
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	if !strings.HasPrefix(listen, "http") {
		listen = "http://" + listen
	}
	return listen
}

func (c *console) prompt() string {
	line, _ := c.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *console) ask(label string) string {
	fmt.Printf("%s: ", label)
	return c.prompt()
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 40*time.Second)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func (c *console) showStrategies() {
	cx, cancel := ctx()
	defer cancel()
	all, err := c.client.Strategies(cx)
	if err != nil {
		fail(err)
		return
	}
	fmt.Println("\n--- Strategies ---")
	for _, s := range all {
		fmt.Printf("%-16s %-14s %-8s run=%d cycles=%d failures=%d last=%s\n",
			s.ID, s.Pair, s.State, s.Run, s.Cycles, s.Failures, s.LastOutcome)
		if s.LastError != "" {
			fmt.Printf("%16s last error: %s\n", "", s.LastError)
		}
	}
}

func (c *console) lifecycle() {
	id := c.ask("Strategy id")
	action := strings.ToLower(c.ask("Action (start|stop|pause)"))
	switch action {
	case "start", "stop", "pause":
	default:
		fmt.Println("unknown action")
		return
	}
	cx, cancel := ctx()
	defer cancel()
	res, err := c.client.Act(cx, id, action)
	if err != nil {
		fail(err)
		return
	}
	fmt.Printf("%s is now %s\n", res.ID, res.State)
}

func (c *console) pumplist() {
	id := c.ask("Strategy id")
	cx, cancel := ctx()
	defer cancel()
	res, err := c.client.Act(cx, id, "pumplist")
	if err != nil {
		fail(err)
		return
	}
	if len(res.Actions) == 0 {
		fmt.Println("no active pumplist assets")
		return
	}
	for _, a := range res.Actions {
		fmt.Printf("%-12s liquidity=%.0f threshold=%.0f deficit=%s market_made=%t flagged=%t %s %s\n",
			a.Asset, a.Liquidity, a.Threshold, a.Deficit, a.MarketMade, a.Flagged, a.FlagReason, a.Err)
	}
}

func (c *console) showList() {
	list := c.ask("List (greenlist|blacklist|redlist|whitelist|pumplist)")
	cx, cancel := ctx()
	defer cancel()
	entries, err := c.client.List(cx, list)
	if err != nil {
		fail(err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("(empty)")
	}
	for _, e := range entries {
		fmt.Printf("%-44s by=%-10s reason=%s updated=%s\n", e.Identifier, e.AddedBy, e.Reason, e.UpdatedAt.Format(time.RFC3339))
	}
}

func (c *console) addToList() {
	list := c.ask("List")
	req := control.AddRequest{
		Identifier: c.ask("Identifier"),
		Reason:     c.ask("Reason (optional)"),
		AddedBy:    c.ask("Added by (optional)"),
	}
	if strings.HasPrefix(strings.ToLower(list), "pump") {
		req.FocusMinutes = int(c.promptFloat("Focus minutes (0 = open ended)", 0))
		req.MinLiquidity = c.promptFloat("Min liquidity", 0)
	}
	if strings.HasPrefix(strings.ToLower(list), "red") {
		req.TargetType = c.ask("Target type (token|wallet)")
	}
	cx, cancel := ctx()
	defer cancel()
	entry, err := c.client.AddToList(cx, list, req)
	if err != nil {
		fail(err)
		return
	}
	fmt.Printf("added %s to %s\n", entry.Identifier, entry.ListName)
}

func (c *console) setStatus() {
	list := c.ask("List")
	id := c.ask("Identifier")
	active := strings.HasPrefix(strings.ToLower(c.ask("Active? (y/n)")), "y")
	cx, cancel := ctx()
	defer cancel()
	entry, err := c.client.SetListStatus(cx, list, id, active)
	if err != nil {
		fail(err)
		return
	}
	fmt.Printf("%s on %s active=%t\n", entry.Identifier, entry.ListName, entry.Active)
}

func (c *console) showBreaker() {
	cx, cancel := ctx()
	defer cancel()
	st, err := c.client.Safety(cx)
	if err != nil {
		fail(err)
		return
	}
	fmt.Printf("triggered=%t reason=%q thresholds: price %.2f%% volume %.2f%%\n",
		st.Triggered, st.Reason, st.Thresholds.MaxPriceChange*100, st.Thresholds.MaxVolumeSpike*100)
	fmt.Printf("last observation %s: price %.2f%% volume %.2f%%\n", st.Last.Symbol, st.Last.PriceChange*100, st.Last.VolumeSpike*100)
}

func (c *console) resetBreaker() {
	cx, cancel := ctx()
	defer cancel()
	cleared, err := c.client.ResetSafety(cx)
	if err != nil {
		fail(err)
		return
	}
	if cleared {
		fmt.Println("breaker reset")
	} else {
		fmt.Println("breaker was not tripped")
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Venue: %s | feed: %s | lists: %s | journal: %s\n", cfg.Execution.Venue, cfg.Exchange.Provider, cfg.Lists.Driver, cfg.Journal.Driver)
	fmt.Printf("Swarm: %d wallets, policy %s, quote %s, stagger %dms\n", len(cfg.Swarm.Wallets), cfg.Swarm.Policy, cfg.Swarm.QuoteAsset, cfg.Swarm.StaggerMs)
	fmt.Printf("Per-trade notional cap: $%.2f | min confidence %.2f\n", cfg.Risk.MaxNotionalPerTrade, cfg.Risk.MinConfidence)
	fmt.Printf("Breaker: price %.2f%% | volume %.2f%%\n", cfg.Safety.MaxPriceChange*100, cfg.Safety.MaxVolumeSpike*100)
	fmt.Printf("Retry attempts: %d\n", cfg.Orchestrator.RetryAttempts)
	for _, s := range cfg.Strategies {
		fmt.Printf("  %-16s %-14s every %dms sizing=%s autostart=%t\n", s.ID, s.Pair, s.IntervalMs, s.Sizing, s.Autostart)
	}
}

func (c *console) editRisk() {
	fmt.Println("\n--- Edit Risk / Safety ---")
	c.cfg.Risk.MaxNotionalPerTrade = c.promptFloat("Max notional per trade (USD)", c.cfg.Risk.MaxNotionalPerTrade)
	c.cfg.Risk.MinConfidence = c.promptFloat("Min oracle confidence", c.cfg.Risk.MinConfidence)
	c.cfg.Safety.MaxPriceChange = c.promptPercent("Breaker price change (%)", c.cfg.Safety.MaxPriceChange)
	c.cfg.Safety.MaxVolumeSpike = c.promptPercent("Breaker volume spike (%)", c.cfg.Safety.MaxVolumeSpike)
	c.cfg.Orchestrator.RetryAttempts = int(c.promptFloat("Retry attempts", float64(c.cfg.Orchestrator.RetryAttempts)))
}

func (c *console) promptFloat(label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line := c.prompt()
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func (c *console) promptPercent(label string, current float64) float64 {
	return c.promptFloat(label, current*100) / 100
}
