package services

import (
	"context"

	"github.com/trobanga/stagehand/internal/lib"
)

// Notifier delivers operator alerts that need a human
type Notifier interface {
	NotifyAccountFailure(ctx context.Context, username string, reason string) error
}

// LogNotifier reports alerts at error level
type LogNotifier struct {
	Logger *lib.Logger
}

// NotifyAccountFailure implements Notifier
func (n LogNotifier) NotifyAccountFailure(ctx context.Context, username string, reason string) error {
	n.Logger.Error("Account provisioning needs an administrator", "user", username, "reason", reason)
	return nil
}
