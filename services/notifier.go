package services

import (
	"context"
	"log/slog"
)

// Notifier sends best-effort messages to members. Callers log failures and carry on.
type Notifier interface {
	RegistrationApproved(ctx context.Context, email, name string) error
	RegistrationRejected(ctx context.Context, email, name string, reason string, canResubmit bool) error
	PaymentManagerRequested(ctx context.Context, parentEmail, youthName string) error
}

// NoopNotifier is used when SMTP is not configured.
type NoopNotifier struct{}

func (NoopNotifier) RegistrationApproved(context.Context, string, string) error { return nil }
func (NoopNotifier) RegistrationRejected(context.Context, string, string, string, bool) error {
	return nil
}
func (NoopNotifier) PaymentManagerRequested(context.Context, string, string) error { return nil }

func notify(ctx context.Context, logger *slog.Logger, kind string, send func() error) {
	if err := send(); err != nil {
		logger.WarnContext(ctx, "notification failed", slog.String("kind", kind), slog.Any("error", err))
	}
}
