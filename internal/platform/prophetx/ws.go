package prophetx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddslab/makerbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// DeltaBatchHandler is called for each ordered batch of order deltas
// received on the "orders" channel.
type DeltaBatchHandler func(marketID string, deltas []domain.OrderDelta)

// WSClient is a single-connection WebSocket client for the ProphetX order
// stream. It manages subscriptions and dispatches delta batches to the
// registered handler. Reconnection policy belongs to the caller: when the
// read loop exits, Done() is closed and the client is finished.
type WSClient struct {
	wsURL string

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[string]struct{} // market ids
	closed        bool

	handler DeltaBatchHandler

	// done is closed when the read loop exits for any reason.
	done     chan struct{}
	doneOnce sync.Once
}

// NewWSClient creates a client for the given order-stream endpoint, e.g.
// "wss://stream.prophetx.co/v1/orders". handler receives every delta batch.
func NewWSClient(wsURL string, handler DeltaBatchHandler) *WSClient {
	return &WSClient{
		wsURL:         wsURL,
		subscriptions: make(map[string]struct{}),
		handler:       handler,
		done:          make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("prophetx/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("prophetx/ws: connect: %w: %w", err, domain.ErrTransport)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Subscribe subscribes to the order stream for a market.
func (w *WSClient) Subscribe(marketID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("prophetx/ws: not connected")
	}
	cmd := WSCommand{Type: "subscribe", Channel: "orders", Markets: []string{marketID}}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("prophetx/ws: subscribe %s: %w", marketID, err)
	}
	w.subscriptions[marketID] = struct{}{}
	return nil
}

// Unsubscribe drops the order stream for a market.
func (w *WSClient) Unsubscribe(marketID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("prophetx/ws: not connected")
	}
	cmd := WSCommand{Type: "unsubscribe", Channel: "orders", Markets: []string{marketID}}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("prophetx/ws: unsubscribe %s: %w", marketID, err)
	}
	delete(w.subscriptions, marketID)
	return nil
}

// Done is closed when the connection is no longer usable.
func (w *WSClient) Done() <-chan struct{} { return w.done }

// Close shuts down the connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.signalDone()

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) signalDone() {
	w.doneOnce.Do(func() { close(w.done) })
}

// readLoop reads stream frames and dispatches them until the connection
// fails or the client is closed.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		w.signalDone()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a stream frame and forwards the delta batch in
// arrival order. Unparseable frames and rows are dropped silently here; the
// mirror's own validation is the backstop.
func (w *WSClient) handleMessage(raw []byte) {
	var env WSEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Channel != "orders" || len(env.Orders) == 0 {
		return
	}

	deltas := make([]domain.OrderDelta, 0, len(env.Orders))
	for i := range env.Orders {
		d, err := env.Orders[i].ToDomainDelta()
		if err != nil {
			continue
		}
		deltas = append(deltas, d)
	}
	if len(deltas) == 0 {
		return
	}
	if w.handler != nil {
		w.handler(env.MarketID, deltas)
	}
}
