package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/makerbot/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, int64(1_000_000), cfg.Venue.OddsUnit)
	assert.Equal(t, 0.99, cfg.Maker.CompleteFraction)
	assert.Equal(t, 60*time.Second, cfg.Maker.RecentCancelTTL.Duration)
	assert.Equal(t, 2500*time.Millisecond, cfg.Maker.MinOrderUpdateInterval.Duration)
	assert.Equal(t, 10*time.Second, cfg.Maker.PollFallbackInterval.Duration)
	assert.Equal(t, 3, cfg.Maker.MaxRetries)
	assert.Equal(t, time.Second, cfg.Maker.RetryBaseDelay.Duration)
	assert.Equal(t, 2.0, cfg.Maker.RetryBackoff)
	assert.False(t, cfg.Postgres.Enabled())
	assert.False(t, cfg.Redis.Enabled())
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rest host", func(c *Config) { c.Venue.RestHost = "" }},
		{"zero odds unit", func(c *Config) { c.Venue.OddsUnit = 0 }},
		{"zero ladder step", func(c *Config) { c.Venue.LadderStep = 0 }},
		{"step does not divide unit", func(c *Config) { c.Venue.LadderStep = 7_000 }},
		{"zero stake unit", func(c *Config) { c.Venue.StakeUnit = 0 }},
		{"no signing key", func(c *Config) { c.Wallet.PrivateKey = ""; c.Wallet.EncryptedKeyPath = "" }},
		{"complete fraction too big", func(c *Config) { c.Maker.CompleteFraction = 1.5 }},
		{"backoff below one", func(c *Config) { c.Maker.RetryBackoff = 0.5 }},
		{"bad server port", func(c *Config) { c.Server.Port = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bad := validConfig()
			tc.mutate(&bad)
			assert.ErrorIs(t, bad.Validate(), domain.ErrConfigInvalid)
		})
	}
}

func TestLoad_TOMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[venue]
rest_host = "https://api.example.test"
odds_unit = 100000
ladder_step = 500
stake_unit = 1000000

[maker]
min_order_update_interval = "3s"
recent_cancel_ttl = "90s"

[server]
port = 9999
`), 0o644))

	t.Setenv("MAKERBOT_WALLET_PRIVATE_KEY", "0xdeadbeef")
	t.Setenv("MAKERBOT_SERVER_PORT", "7777")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://api.example.test", cfg.Venue.RestHost)
	assert.Equal(t, int64(100_000), cfg.Venue.OddsUnit)
	assert.Equal(t, 3*time.Second, cfg.Maker.MinOrderUpdateInterval.Duration)
	assert.Equal(t, 90*time.Second, cfg.Maker.RecentCancelTTL.Duration)

	// Environment wins over the file.
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, 7777, cfg.Server.Port)

	// Untouched fields keep their defaults.
	assert.Equal(t, 0.99, cfg.Maker.CompleteFraction)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
