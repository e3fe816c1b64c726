// Package notify defines the notification boundary of the monitor. A failure
// to deliver a notification is logged and optionally retried, but it never
// rolls back or blocks the reconciliation or rollover that produced the
// message.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers a formatted message to a set of recipient identifiers.
type Notifier interface {
	Notify(ctx context.Context, message string, recipients []string) error
}

// LogNotifier writes notifications to the log instead of an external channel.
// Used when no delivery channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, message string, recipients []string) error {
	if n.Logger != nil {
		n.Logger.Info("notify: message (no channel configured)",
			"recipients", len(recipients),
			"message", message,
		)
	}
	return nil
}
