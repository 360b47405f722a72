package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ApplyEnv overlays secrets from the process environment, loading .env first when present.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	_ = godotenv.Load() // best-effort
	if v := os.Getenv("SWARMBOT_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		cfg.Dex.RpcURL = v
	}
	if v := os.Getenv("JUPITER_BASE_URL"); v != "" {
		cfg.Dex.JupiterBase = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alerts.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Alerts.ChatID = id
		}
	}
	if v := os.Getenv("SWARMBOT_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
}
