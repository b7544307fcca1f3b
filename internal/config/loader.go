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
// built-in defaults, applies MAKERBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known MAKERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.RestHost, "MAKERBOT_VENUE_REST_HOST")
	setStr(&cfg.Venue.WsHost, "MAKERBOT_VENUE_WS_HOST")
	setInt64(&cfg.Venue.OddsUnit, "MAKERBOT_VENUE_ODDS_UNIT")
	setInt64(&cfg.Venue.LadderStep, "MAKERBOT_VENUE_LADDER_STEP")
	setInt64(&cfg.Venue.StakeUnit, "MAKERBOT_VENUE_STAKE_UNIT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "MAKERBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "MAKERBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MAKERBOT_WALLET_KEY_PASSWORD")

	// ── Session ──
	setStr(&cfg.Session.ApiKey, "MAKERBOT_SESSION_API_KEY")
	setStr(&cfg.Session.ApiSecret, "MAKERBOT_SESSION_API_SECRET")
	setStr(&cfg.Session.ApiPassphrase, "MAKERBOT_SESSION_API_PASSPHRASE")

	// ── Maker ──
	setFloat64(&cfg.Maker.CompleteFraction, "MAKERBOT_MAKER_COMPLETE_FRACTION")
	setDuration(&cfg.Maker.RecentCancelTTL, "MAKERBOT_MAKER_RECENT_CANCEL_TTL")
	setDuration(&cfg.Maker.MinOrderUpdateInterval, "MAKERBOT_MAKER_MIN_ORDER_UPDATE_INTERVAL")
	setDuration(&cfg.Maker.PollFallbackInterval, "MAKERBOT_MAKER_POLL_FALLBACK_INTERVAL")
	setDuration(&cfg.Maker.ConnectWindow, "MAKERBOT_MAKER_CONNECT_WINDOW")
	setInt(&cfg.Maker.MaxRetries, "MAKERBOT_MAKER_MAX_RETRIES")
	setDuration(&cfg.Maker.RetryBaseDelay, "MAKERBOT_MAKER_RETRY_BASE_DELAY")
	setFloat64(&cfg.Maker.RetryBackoff, "MAKERBOT_MAKER_RETRY_BACKOFF")
	setFloat64(&cfg.Maker.RequestsPerSec, "MAKERBOT_MAKER_REQUESTS_PER_SEC")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MAKERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MAKERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MAKERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MAKERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MAKERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MAKERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MAKERBOT_POSTGRES_SSL_MODE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MAKERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MAKERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MAKERBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MAKERBOT_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MAKERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MAKERBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MAKERBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MAKERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MAKERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MAKERBOT_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Logging ──
	setStr(&cfg.LogLevel, "MAKERBOT_LOG_LEVEL")
	setStr(&cfg.LogFile, "MAKERBOT_LOG_FILE")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			dst.Duration = d
		}
	}
}
