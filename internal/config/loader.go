package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BIDHUB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BIDHUB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setBool(&cfg.Database.InMemory, "BIDHUB_DATABASE_IN_MEMORY")
	setStr(&cfg.Database.DSN, "BIDHUB_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "BIDHUB_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "BIDHUB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BIDHUB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BIDHUB_DATABASE_NAME")
	setStr(&cfg.Database.User, "BIDHUB_DATABASE_USER")
	setStr(&cfg.Database.Password, "BIDHUB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BIDHUB_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "BIDHUB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BIDHUB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "BIDHUB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BIDHUB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BIDHUB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDHUB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDHUB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDHUB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BIDHUB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BIDHUB_REDIS_TLS_ENABLED")

	// ── Auction ──
	setDuration(&cfg.Auction.TickInterval, "BIDHUB_AUCTION_TICK_INTERVAL")
	setInt(&cfg.Auction.BidRateLimit, "BIDHUB_AUCTION_BID_RATE_LIMIT")
	setDuration(&cfg.Auction.BidRateWindow, "BIDHUB_AUCTION_BID_RATE_WINDOW")
	setInt(&cfg.Auction.NotifyQueueSize, "BIDHUB_AUCTION_NOTIFY_QUEUE_SIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "BIDHUB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDHUB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BIDHUB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BIDHUB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BIDHUB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BIDHUB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BIDHUB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BIDHUB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
