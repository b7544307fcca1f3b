// Package config defines the top-level configuration for the maker agent
// and provides validation helpers.
package config

import (
	"fmt"
	"time"

	"github.com/oddslab/makerbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MAKERBOT_* environment
// variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Wallet   WalletConfig   `toml:"wallet"`
	Session  SessionConfig  `toml:"session"`
	Maker    MakerConfig    `toml:"maker"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
	LogFile  string         `toml:"log_file"` // empty logs to stdout
}

// VenueConfig holds the exchange endpoints and wire-format constants.
type VenueConfig struct {
	RestHost string `toml:"rest_host"`
	WsHost   string `toml:"ws_host"`

	// OddsUnit is the wire value representing 100% implied probability.
	OddsUnit int64 `toml:"odds_unit"`
	// LadderStep is the odds quantization step; posted odds must be
	// multiples of it.
	LadderStep int64 `toml:"ladder_step"`
	// StakeUnit is the nominal-to-wire stake multiplier.
	StakeUnit int64 `toml:"stake_unit"`
}

// WalletConfig holds the maker's signing identity.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SessionConfig holds the venue session credentials obtained from the
// signed login handshake.
type SessionConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// MakerConfig holds the trading-core tunables.
type MakerConfig struct {
	CompleteFraction       float64  `toml:"complete_fraction"`
	RecentCancelTTL        duration `toml:"recent_cancel_ttl"`
	MinOrderUpdateInterval duration `toml:"min_order_update_interval"`
	PollFallbackInterval   duration `toml:"poll_fallback_interval"`
	ConnectWindow          duration `toml:"connect_window"`
	MaxRetries             int      `toml:"max_retries"`
	RetryBaseDelay         duration `toml:"retry_base_delay"`
	RetryBackoff           float64  `toml:"retry_backoff"`
	RequestsPerSec         float64  `toml:"requests_per_sec"`
}

// PostgresConfig holds the optional audit-journal database. An empty DSN
// and host disable the journal.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// Enabled reports whether a journal database is configured.
func (p PostgresConfig) Enabled() bool {
	return p.DSN != "" || p.Host != ""
}

// RedisConfig holds the optional metrics-cache connection. An empty address
// disables publishing.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	MetricsTTL  duration `toml:"metrics_ttl"`
}

// Enabled reports whether the metrics cache is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// ServerConfig holds the operator HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"` // empty disables auth
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s", "2500ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			RestHost:   "https://api.prophetx.co",
			WsHost:     "wss://stream.prophetx.co/v1/orders",
			OddsUnit:   1_000_000,
			LadderStep: 5_000,
			StakeUnit:  1_000_000,
		},
		Maker: MakerConfig{
			CompleteFraction:       0.99,
			RecentCancelTTL:        duration{60 * time.Second},
			MinOrderUpdateInterval: duration{2500 * time.Millisecond},
			PollFallbackInterval:   duration{10 * time.Second},
			ConnectWindow:          duration{5 * time.Second},
			MaxRetries:             3,
			RetryBaseDelay:         duration{time.Second},
			RetryBackoff:           2.0,
			RequestsPerSec:         5,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			Database:     "makerbot",
			User:         "makerbot",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			MetricsTTL: duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		LogLevel: "info",
	}
}

// Validate rejects operator input the agent cannot run with. It returns an
// error wrapping domain.ErrConfigInvalid describing the first failed check.
func (c *Config) Validate() error {
	switch {
	case c.Venue.RestHost == "":
		return fmt.Errorf("config: venue.rest_host required: %w", domain.ErrConfigInvalid)
	case c.Venue.OddsUnit <= 0:
		return fmt.Errorf("config: venue.odds_unit must be positive: %w", domain.ErrConfigInvalid)
	case c.Venue.LadderStep <= 0:
		return fmt.Errorf("config: venue.ladder_step must be positive: %w", domain.ErrConfigInvalid)
	case c.Venue.OddsUnit%c.Venue.LadderStep != 0:
		return fmt.Errorf("config: venue.ladder_step must divide venue.odds_unit: %w", domain.ErrConfigInvalid)
	case c.Venue.StakeUnit <= 0:
		return fmt.Errorf("config: venue.stake_unit must be positive: %w", domain.ErrConfigInvalid)
	case c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "":
		return fmt.Errorf("config: wallet.private_key or wallet.encrypted_key_path required: %w", domain.ErrConfigInvalid)
	case c.Maker.CompleteFraction <= 0 || c.Maker.CompleteFraction > 1:
		return fmt.Errorf("config: maker.complete_fraction must be in (0, 1]: %w", domain.ErrConfigInvalid)
	case c.Maker.RetryBackoff < 1:
		return fmt.Errorf("config: maker.retry_backoff must be >= 1: %w", domain.ErrConfigInvalid)
	case c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535):
		return fmt.Errorf("config: server.port out of range: %w", domain.ErrConfigInvalid)
	}
	return nil
}
