// Package notify delivers operator alerts about position lifecycle events
// (fills, completions, risk pauses, order errors) to Telegram and Discord.
// Delivery is asynchronous and best-effort: a slow or failing channel never
// stalls the trading pipeline.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// sendTimeout bounds one delivery attempt across all channels.
const sendTimeout = 10 * time.Second

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier (e.g. "telegram").
	Name() string
}

// eventTitles maps engine event names to operator-facing titles. Unknown
// events fall back to the raw event name.
var eventTitles = map[string]string{
	"position_filled":    "Position filled",
	"position_completed": "Position completed",
	"risk_paused":        "Risk gate tripped",
	"risk_resumed":       "Risk gate cleared",
	"order_error":        "Order error",
}

// Notifier fans events out to the configured senders. It maintains a set of
// allowed event types; events outside the set are dropped. An empty set
// allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, filtered
// to the listed event types (empty list = all events).
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish dispatches the event asynchronously. It returns immediately; the
// delivery happens on its own goroutine with its own timeout, detached from
// the caller's context so a position close does not cut off its own alert.
func (n *Notifier) Publish(_ context.Context, event, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	title, ok := eventTitles[event]
	if !ok {
		title = event
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		for _, s := range n.senders {
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.Warn("notification delivery failed",
					slog.String("sender", s.Name()),
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}
