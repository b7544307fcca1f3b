// Package app provides the top-level application lifecycle for the maker
// agent. It wires together all dependencies and runs until the context is
// cancelled, at which point every known active order is cancelled before
// the transport goes down.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddslab/makerbot/internal/config"
	"github.com/oddslab/makerbot/internal/server"
	"github.com/oddslab/makerbot/internal/server/handler"
)

// shutdownGrace bounds the cancel-all and server drain on shutdown.
const shutdownGrace = 15 * time.Second

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the operator API, and blocks until the
// context is cancelled. On return the agent has attempted to cancel every
// known active order.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting maker agent",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.Info("maker identity loaded", slog.String("maker_id", deps.Signer.MakerID()))
	deps.Engine.SetReferenceData(deps.RefData)

	g, gctx := errgroup.WithContext(ctx)

	var srv *server.Server
	if a.cfg.Server.Enabled {
		srv = server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(),
			Positions: handler.NewPositionHandler(deps.Engine, a.logger),
			Markets:   handler.NewMarketHandler(deps.Monitor, a.logger),
		}, a.logger)

		g.Go(srv.Start)
	}

	g.Go(func() error {
		<-gctx.Done()

		// Shutdown order matters: drain the operator API, cancel every
		// resting order, then drop subscriptions and transport.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("server shutdown", slog.String("error", err.Error()))
			}
		}
		if err := deps.Engine.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("engine shutdown", slog.String("error", err.Error()))
		}
		deps.Monitor.Close()
		return gctx.Err()
	})

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down maker agent")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
