// Command makerbot runs the market-making agent for the ProphetX exchange.
// It loads configuration, wires dependencies, sets up signal handling, and
// runs until interrupted. The "positions" mode renders the running agent's
// position list from the operator API instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/oddslab/makerbot/internal/app"
	"github.com/oddslab/makerbot/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "run", "run | positions")
	apiAddr := flag.String("api", "http://localhost:8080", "operator API address (positions mode)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	switch *mode {
	case "positions":
		if err := renderPositions(*apiAddr, cfg.Server.APIKey); err != nil {
			fmt.Fprintf(os.Stderr, "positions: %v\n", err)
			os.Exit(1)
		}
		return
	case "run":
	default:
		fmt.Fprintf(os.Stderr, "unsupported mode %q\n", *mode)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("maker agent starting", slog.String("config", *configPath))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("maker agent stopped")
}

// newLogger builds the structured JSON logger, optionally writing to a
// rotating log file instead of stdout.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// renderPositions fetches the position list from a running agent and prints
// it as a table.
func renderPositions(apiAddr, apiKey string) error {
	req, err := http.NewRequest(http.MethodGet, apiAddr+"/api/positions", nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-Operator-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Positions []struct {
			ID          string `json:"id"`
			MarketID    string `json:"market_id"`
			Side        string `json:"side"`
			MaxStake    string `json:"max_stake"`
			FilledStake string `json:"filled_stake"`
			PremiumBps  int64  `json:"premium_bps"`
			Status      string `json:"status"`
			OrderStatus string `json:"order_status"`
		} `json:"positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Market", "Side", "Filled/Max", "Premium", "Status", "Order")
	for _, p := range payload.Positions {
		table.Append(
			shortID(p.ID),
			p.MarketID,
			p.Side,
			fmt.Sprintf("%s/%s", p.FilledStake, p.MaxStake),
			fmt.Sprintf("%dbps", p.PremiumBps),
			p.Status,
			p.OrderStatus,
		)
	}
	table.Render()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
