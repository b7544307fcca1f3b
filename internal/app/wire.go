package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oddslab/makerbot/internal/cache/redis"
	"github.com/oddslab/makerbot/internal/config"
	"github.com/oddslab/makerbot/internal/crypto"
	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/engine"
	"github.com/oddslab/makerbot/internal/feed"
	"github.com/oddslab/makerbot/internal/gateway"
	"github.com/oddslab/makerbot/internal/notify"
	"github.com/oddslab/makerbot/internal/platform/prophetx"
	"github.com/oddslab/makerbot/internal/pricing"
	"github.com/oddslab/makerbot/internal/refdata"
	"github.com/oddslab/makerbot/internal/store"
	"github.com/oddslab/makerbot/internal/store/postgres"
	"github.com/oddslab/makerbot/internal/transport"
)

// Dependencies bundles everything the application needs to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Signer    *crypto.Signer
	Converter *pricing.Converter
	Positions *store.Positions
	Engine    *engine.Engine
	Monitor   *feed.Monitor
	RefData   domain.ReferenceData
	Notifier  *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- Signing identity ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: load key: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}

	// --- Wire-format arithmetic ---
	conv, err := pricing.NewConverter(cfg.Venue.OddsUnit, cfg.Venue.LadderStep, cfg.Venue.StakeUnit)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: pricing: %w", err)
	}

	// --- Venue clients ---
	auth := &crypto.SessionAuth{
		Key:        cfg.Session.ApiKey,
		Secret:     cfg.Session.ApiSecret,
		Passphrase: cfg.Session.ApiPassphrase,
	}
	rest := prophetx.NewClient(cfg.Venue.RestHost, auth, signer.MakerID())

	tp := transport.New(rest, transport.Config{
		WSURL:         cfg.Venue.WsHost,
		ConnectWindow: cfg.Maker.ConnectWindow.Duration,
		PollInterval:  cfg.Maker.PollFallbackInterval.Duration,
	}, logger)

	gw := gateway.New(rest, signer, conv, gateway.Config{
		MaxRetries:     cfg.Maker.MaxRetries,
		RetryBaseDelay: cfg.Maker.RetryBaseDelay.Duration,
		RetryBackoff:   cfg.Maker.RetryBackoff,
		RequestsPerSec: cfg.Maker.RequestsPerSec,
	}, logger)

	// --- Optional audit journal ---
	var journal domain.AuditJournal
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		if err := pgClient.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres schema: %w", err)
		}
		journal = postgres.NewJournal(pgClient.Pool())
	}

	// --- Optional metrics cache ---
	var cache domain.MetricsCache
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		cache = redis.NewMetricsCache(redisClient, cfg.Redis.MetricsTTL.Duration)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Trading core ---
	positions := store.NewPositions()
	eng := engine.New(ctx, positions, gw, conv, engine.Config{
		CompleteFraction:       cfg.Maker.CompleteFraction,
		MinOrderUpdateInterval: cfg.Maker.MinOrderUpdateInterval.Duration,
	}, journal, notifier, logger)

	monitor := feed.NewMonitor(
		tp, positions, conv, signer.MakerID(), eng, cache,
		cfg.Maker.RecentCancelTTL.Duration, logger,
	)
	eng.SetMonitor(monitor)

	return &Dependencies{
		Signer:    signer,
		Converter: conv,
		Positions: positions,
		Engine:    eng,
		Monitor:   monitor,
		RefData:   refdata.NewClient(cfg.Venue.RestHost),
		Notifier:  notifier,
	}, cleanup, nil
}
