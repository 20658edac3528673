// Package notify fans operator alerts out to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"volume_miner/internal/domain"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier sends incidents to every configured sender. One failing sender
// does not stop delivery to the others.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over senders.
func NewNotifier(logger *slog.Logger, senders ...Sender) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("module", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Alert renders incident and dispatches it.
func (n *Notifier) Alert(ctx context.Context, incident domain.Incident) error {
	title := fmt.Sprintf("volume-miner: %s on %s", incident.Kind, incident.MarketID)
	return n.dispatch(ctx, title, incident.Summary())
}

// Send dispatches a free-form message, used for lifecycle notices.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed", slog.String("sender", s.Name()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	return errors.Join(errs...)
}

var _ domain.Alerter = (*Notifier)(nil)
