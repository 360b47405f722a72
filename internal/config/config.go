// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	ControlAddr string `yaml:"control_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Exchange describes where market data comes from.
type Exchange struct {
	Provider       string      `yaml:"provider"`
	Symbols        []string    `yaml:"symbols"`
	StubIntervalMs int         `yaml:"stub_interval_ms"`
	DexScreener    DexScreener `yaml:"dexscreener"`
	Discovery      Discovery   `yaml:"discovery"`
}

// DexScreener configures the HTTP polling feed targeting Dexscreener pairs.
type DexScreener struct {
	BaseURL      string `yaml:"base_url"`
	DefaultChain string `yaml:"default_chain"`
	PollInterval int    `yaml:"poll_interval_ms"`
	// RequestsPerMinute is shared by feed polling, discovery and pool lookups.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Discovery configures automatic symbol discovery.
type Discovery struct {
	Enabled            bool     `yaml:"enabled"`
	Keywords           []string `yaml:"keywords"`
	Chains             []string `yaml:"chains"`
	MaxPairs           int      `yaml:"max_pairs"`
	RefreshInterval    int      `yaml:"refresh_interval_ms"`
	MinLiquidityUSD    float64  `yaml:"min_liquidity_usd"`
	MinVolumeUSD       float64  `yaml:"min_volume_usd"`
	MaxPairsPerKeyword int      `yaml:"max_pairs_per_keyword"`
}

// Safety holds circuit breaker thresholds and the token reputation lookup.
type Safety struct {
	MaxPriceChange      float64 `yaml:"max_price_change"`
	MaxVolumeSpike      float64 `yaml:"max_volume_spike"`
	WindowSecs          int     `yaml:"window_secs"`
	ReputationURL       string  `yaml:"reputation_url"`
	ReputationTTLSecs   int     `yaml:"reputation_ttl_secs"`
	ReputationCacheSize int     `yaml:"reputation_cache_size"`
	ReputationTimeoutMs int     `yaml:"reputation_timeout_ms"`
}

// Lists selects the list store backend.
type Lists struct {
	Driver string `yaml:"driver"` // memory|postgres
}

// Database is the shared postgres connection used by the list store and journal.
type Database struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// Swarm tunes wallet fan-out.
type Swarm struct {
	StaggerMs  int                           `yaml:"stagger_ms"`
	Precision  int32                         `yaml:"precision"`
	Policy     string                        `yaml:"policy"` // equal|balance_weighted
	QuoteAsset string                        `yaml:"quote_asset"`
	Wallets    []string                      `yaml:"wallets"`
	Balances   map[string]map[string]float64 `yaml:"balances"`
}

// Execution tunes the order submission adapter.
type Execution struct {
	Venue        string  `yaml:"venue"` // paper|jupiter
	MaxRetries   int     `yaml:"max_retries"`
	BackoffMinMs int     `yaml:"backoff_min_ms"`
	BackoffMaxMs int     `yaml:"backoff_max_ms"`
	SlippageBps  float64 `yaml:"slippage_bps"`
}

// Journal selects where trade attempts are recorded.
type Journal struct {
	Driver string `yaml:"driver"` // jsonl|postgres|memory
	Path   string `yaml:"path"`
}

// Orchestrator bounds the per-strategy control loop.
type Orchestrator struct {
	RetryAttempts   int `yaml:"retry_attempts"`
	FetchTimeoutMs  int `yaml:"fetch_timeout_ms"`
	OracleTimeoutMs int `yaml:"oracle_timeout_ms"`
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	OBIThreshold      float64 `yaml:"obi_threshold"`
	VolWindowSecs     int     `yaml:"vol_window_secs"`
	TrendThreshold    float64 `yaml:"trend_threshold"`
	TrendWindowSecs   int     `yaml:"trend_window_secs"`
	TrendMinVolumeUSD float64 `yaml:"trend_min_volume_usd"`
}

// Oracle picks the decision source consulted every cycle.
type Oracle struct {
	Kind   string         `yaml:"kind"` // strategy|http
	URL    string         `yaml:"url"`
	Mode   string         `yaml:"mode"` // obi|trend when kind=strategy
	Params StrategyParams `yaml:"params"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	MinConfidence       float64 `yaml:"min_confidence"`
}

// Strategy defines one bot managed by the orchestrator.
type Strategy struct {
	ID               string   `yaml:"id"`
	Pair             string   `yaml:"pair"`   // ASSET/QUOTE
	Symbol           string   `yaml:"symbol"` // feed symbol; defaults to ASSET+QUOTE
	IntervalMs       int      `yaml:"interval_ms"`
	OrderSize        float64  `yaml:"order_size"`
	Sizing           string   `yaml:"sizing"` // fixed|dca
	DCAFraction      float64  `yaml:"dca_fraction"`
	Wallets          []string `yaml:"wallets"`
	RequireGreenlist bool     `yaml:"require_greenlist"`
	Autostart        bool     `yaml:"autostart"`
}

// Pumplist drives the periodic pumplist pass.
type Pumplist struct {
	IntervalMs int `yaml:"interval_ms"`
}

// Alerts configures where critical events go besides the log.
type Alerts struct {
	Telegram bool   `yaml:"telegram"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Paper captures paper-venue settings.
type Paper struct {
	StartingCash         float64 `yaml:"starting_cash"`
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	SlippageBps          float64 `yaml:"slippage_bps"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App          App          `yaml:"app"`
	Exchange     Exchange     `yaml:"exchange"`
	Safety       Safety       `yaml:"safety"`
	Lists        Lists        `yaml:"lists"`
	Database     Database     `yaml:"database"`
	Swarm        Swarm        `yaml:"swarm"`
	Execution    Execution    `yaml:"execution"`
	Journal      Journal      `yaml:"journal"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Oracle       Oracle       `yaml:"oracle"`
	Risk         Risk         `yaml:"risk"`
	Strategies   []Strategy   `yaml:"strategies"`
	Pumplist     Pumplist     `yaml:"pumplist"`
	Alerts       Alerts       `yaml:"alerts"`
	Dex          Dex          `yaml:"dex"`
	Wallet       Wallet       `yaml:"wallet"`
	Paper        Paper        `yaml:"paper"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Exchange.Provider == "" {
		c.Exchange.Provider = "stub"
	}
	if c.Safety.WindowSecs <= 0 {
		c.Safety.WindowSecs = 60
	}
	if c.Safety.ReputationTTLSecs <= 0 {
		c.Safety.ReputationTTLSecs = 300
	}
	if c.Safety.ReputationCacheSize <= 0 {
		c.Safety.ReputationCacheSize = 1024
	}
	if c.Safety.ReputationTimeoutMs <= 0 {
		c.Safety.ReputationTimeoutMs = 2000
	}
	if c.Lists.Driver == "" {
		c.Lists.Driver = "memory"
	}
	if c.Swarm.Precision <= 0 {
		c.Swarm.Precision = 8
	}
	if c.Swarm.Policy == "" {
		c.Swarm.Policy = "equal"
	}
	if c.Swarm.QuoteAsset == "" {
		c.Swarm.QuoteAsset = "USDC"
	}
	if c.Execution.Venue == "" {
		c.Execution.Venue = "paper"
	}
	if c.Execution.MaxRetries <= 0 {
		c.Execution.MaxRetries = 3
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "jsonl"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/trades.jsonl"
	}
	if c.Orchestrator.RetryAttempts <= 0 {
		c.Orchestrator.RetryAttempts = 3
	}
	if c.Orchestrator.FetchTimeoutMs <= 0 {
		c.Orchestrator.FetchTimeoutMs = 2000
	}
	if c.Orchestrator.OracleTimeoutMs <= 0 {
		c.Orchestrator.OracleTimeoutMs = 1000
	}
	if c.Oracle.Kind == "" {
		c.Oracle.Kind = "strategy"
	}
	if c.Pumplist.IntervalMs <= 0 {
		c.Pumplist.IntervalMs = 60_000
	}
}

// Millis converts a millisecond knob into a duration, substituting def for non-positive values.
func Millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
