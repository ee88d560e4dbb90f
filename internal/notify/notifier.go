// Package notify delivers trade lifecycle alerts to operators. Alerts fan
// out to every registered sender (Telegram, Discord) and can be filtered by
// event name; critical alerts always pass the filter.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event names; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events named in events are
// forwarded, unless events is empty.
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

// Notify delivers msg to all senders. A single sender failure does not
// prevent delivery to the rest; failures are joined into the result.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if msg.Severity < SeverityCritical && len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}
