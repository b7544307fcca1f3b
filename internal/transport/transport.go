// Package transport provides market data access for the maker agent: a
// one-shot order-book snapshot read and a per-market streaming subscription.
// Subscriptions prefer the venue's push channel and transparently fall back
// to periodic snapshot polling with equivalent semantics.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/metrics"
	"github.com/oddslab/makerbot/internal/platform/prophetx"
)

// SnapshotFetcher is the REST read the transport needs. Implemented by
// *prophetx.Client.
type SnapshotFetcher interface {
	GetOrderBook(ctx context.Context, marketID string) ([]domain.MakerOrder, error)
}

// Config holds the transport tunables.
type Config struct {
	// WSURL is the push-channel endpoint. Empty disables push entirely.
	WSURL string

	// ConnectWindow bounds how long a push connection attempt may take
	// before the subscription falls back to polling.
	ConnectWindow time.Duration

	// PollInterval is the snapshot cadence in polling mode.
	PollInterval time.Duration

	// ReconnectBase and ReconnectMax bound the exponential backoff used
	// after a push-channel disconnect.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ConnectWindow <= 0 {
		out.ConnectWindow = 5 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 10 * time.Second
	}
	if out.ReconnectBase <= 0 {
		out.ReconnectBase = 2 * time.Second
	}
	if out.ReconnectMax <= 0 {
		out.ReconnectMax = 60 * time.Second
	}
	return out
}

// Client implements domain.Transport over the ProphetX REST and WebSocket
// APIs.
type Client struct {
	rest   SnapshotFetcher
	cfg    Config
	logger *slog.Logger
}

// New creates a transport client.
func New(rest SnapshotFetcher, cfg Config, logger *slog.Logger) *Client {
	return &Client{
		rest:   rest,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "transport")),
	}
}

// FetchSnapshot performs a synchronous one-shot order-book read.
func (c *Client) FetchSnapshot(ctx context.Context, marketID string) ([]domain.MakerOrder, error) {
	orders, err := c.rest.GetOrderBook(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("transport: snapshot %s: %w", marketID, err)
	}
	return orders, nil
}

// Subscribe opens a delta stream for a market. Deltas are delivered to
// handler in the order received; the returned subscription's Unsubscribe is
// idempotent.
func (c *Client) Subscribe(ctx context.Context, marketID string, handler domain.DeltaHandler) (domain.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		client:   c,
		marketID: marketID,
		handler:  handler,
		ctx:      subCtx,
		cancel:   cancel,
		lastSeen: make(map[string]domain.MakerOrder),
		logger:   c.logger.With(slog.String("market_id", marketID)),
	}
	go s.run()
	return s, nil
}

// subscription is one market's delta stream. It owns the reconnect loop and
// the previous-snapshot state used to synthesize deltas.
type subscription struct {
	client   *Client
	marketID string
	handler  domain.DeltaHandler
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	// mu serializes delta delivery and guards lastSeen.
	mu       sync.Mutex
	lastSeen map[string]domain.MakerOrder

	closeOnce sync.Once
}

// Unsubscribe tears the stream down. Safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(s.cancel)
}

func (s *subscription) run() {
	cfg := s.client.cfg

	ws, err := s.connectPush()
	if err != nil {
		s.logger.Warn("push channel unavailable, falling back to polling",
			slog.String("error", err.Error()),
		)
		metrics.PollFallbacks.Inc()
		s.pollLoop()
		return
	}

	// Push established: seed state, then babysit the connection.
	s.resync()
	for {
		select {
		case <-s.ctx.Done():
			ws.Close()
			return
		case <-ws.Done():
		}

		// Reconnect with exponential backoff; each success re-delivers a
		// snapshot to resynchronize the mirror.
		delay := cfg.ReconnectBase
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			metrics.Reconnects.Inc()
			ws, err = s.connectPush()
			if err == nil {
				s.resync()
				break
			}
			s.logger.Warn("push reconnect failed", slog.String("error", err.Error()))
			delay *= 2
			if delay > cfg.ReconnectMax {
				delay = cfg.ReconnectMax
			}
		}
	}
}

// connectPush dials and subscribes within the configured window.
func (s *subscription) connectPush() (*prophetx.WSClient, error) {
	if s.client.cfg.WSURL == "" {
		return nil, fmt.Errorf("push channel disabled: %w", domain.ErrTransport)
	}
	connectCtx, cancel := context.WithTimeout(s.ctx, s.client.cfg.ConnectWindow)
	defer cancel()

	ws := prophetx.NewWSClient(s.client.cfg.WSURL, s.dispatch)
	if err := ws.Connect(connectCtx); err != nil {
		return nil, err
	}
	if err := ws.Subscribe(s.marketID); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// dispatch records the latest known order state and forwards the batch.
func (s *subscription) dispatch(marketID string, deltas []domain.OrderDelta) {
	if marketID != s.marketID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		if d.Status == domain.DeltaActive {
			s.lastSeen[d.Order.ID] = d.Order.Clone()
		} else {
			delete(s.lastSeen, d.Order.ID)
		}
	}
	s.handler(s.marketID, deltas)
}

// resync fetches a fresh snapshot and delivers it as synthesized deltas so
// the mirror converges after a (re)connect.
func (s *subscription) resync() {
	orders, err := s.client.rest.GetOrderBook(s.ctx, s.marketID)
	if err != nil {
		s.logger.Warn("resync snapshot failed", slog.String("error", err.Error()))
		return
	}
	s.deliverSnapshot(orders)
}

// pollLoop is the fallback mode: each poll is treated as an authoritative
// snapshot and diffed against the previous one, synthesizing both ACTIVE and
// INACTIVE deltas.
func (s *subscription) pollLoop() {
	ticker := time.NewTicker(s.client.cfg.PollInterval)
	defer ticker.Stop()

	// Prime immediately rather than waiting a full interval.
	s.resync()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.resync()
		}
	}
}

// deliverSnapshot diffs an authoritative snapshot against lastSeen and
// forwards the synthesized delta batch.
func (s *subscription) deliverSnapshot(orders []domain.MakerOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	current := make(map[string]struct{}, len(orders))
	deltas := make([]domain.OrderDelta, 0, len(orders))

	for _, o := range orders {
		current[o.ID] = struct{}{}
		deltas = append(deltas, domain.OrderDelta{Order: o.Clone(), Status: domain.DeltaActive})
	}
	for id, prev := range s.lastSeen {
		if _, live := current[id]; live {
			continue
		}
		gone := prev.Clone()
		gone.UpdateTime = maxInt64(prev.UpdateTime+1, now)
		deltas = append(deltas, domain.OrderDelta{Order: gone, Status: domain.DeltaInactive})
	}

	next := make(map[string]domain.MakerOrder, len(orders))
	for _, o := range orders {
		next[o.ID] = o.Clone()
	}
	s.lastSeen = next

	if len(deltas) > 0 {
		s.handler(s.marketID, deltas)
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
