package pipeline

import (
	"context"
	"time"

	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/services"
)

// FollowUpReport summarizes an account follow-up run
type FollowUpReport struct {
	Requested []string // Account-provisioning request written
	GaveUp    []string // Repeated validation errors; marked failed and reported
	Waiting   []string // Changed too recently, or already given up
	Failed    []string
}

// AccountFollowUp requests shell accounts for users the producer skipped
type AccountFollowUp struct {
	Runtime  *Runtime
	Notifier services.Notifier
	Settings models.ProvisioningConfig
}

// Run handles each username in order. Requests are staggered by the configured delay.
func (f *AccountFollowUp) Run(ctx context.Context, usernames []string) (*FollowUpReport, error) {
	rt := f.Runtime
	report := &FollowUpReport{}

	if len(usernames) == 0 {
		return report, nil
	}
	if rt.Config.Storage.AccountQueuePath == "" {
		rt.Logger.Warn(lib.ErrNotConfigured("account follow-up", "storage.account_queue_path").Error(),
			"users", len(usernames))
		report.Waiting = append(report.Waiting, usernames...)
		return report, nil
	}

	recheckBefore := rt.Clock.Now().Add(-f.Settings.RecheckInterval())

	for _, username := range usernames {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		requested, err := f.followUp(ctx, username, recheckBefore, report)
		if err != nil {
			rt.Logger.Error("Account follow-up failed", "user", username, "error", err)
			report.Failed = append(report.Failed, username)
			continue
		}

		if requested && f.Settings.DelaySeconds > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-rt.Clock.After(f.Settings.Delay()):
			}
		}
	}

	return report, nil
}

func (f *AccountFollowUp) followUp(ctx context.Context, username string, recheckBefore time.Time, report *FollowUpReport) (bool, error) {
	rt := f.Runtime

	var history []models.ValidationRecord
	err := rt.withRetry(ctx, "get validation history", func(ctx context.Context) error {
		var err error
		history, err = rt.Store.AccountValidationHistory(ctx, username, f.Settings.RepeatedChecks)
		return err
	})
	switch models.ClassifyLookup(err) {
	case models.LookupOK:
	case models.LookupNotFound, models.LookupInvalid, models.LookupFailed:
		return false, err
	}

	errorsInARow := 0
	for _, record := range history {
		if record.Validation == models.ValidationError {
			errorsInARow++
		}
	}

	if errorsInARow == f.Settings.RepeatedChecks {
		if err := f.Notifier.NotifyAccountFailure(ctx, username, "shell account validation failed repeatedly"); err != nil {
			rt.Logger.Warn("Failed to notify administrator", "user", username, "error", err)
		}
		if err := rt.Store.SetAccountValidation(ctx, username, models.ValidationFailed); err != nil {
			return false, err
		}
		report.GaveUp = append(report.GaveUp, username)
		return false, nil
	}

	code, err := rt.Store.AccountValidation(ctx, username)
	if err != nil {
		return false, err
	}
	if code == models.ValidationFailed {
		report.Waiting = append(report.Waiting, username)
		return false, nil
	}

	if len(history) > 0 && !history[0].RecordedAt.Before(recheckBefore) {
		rt.Logger.Debug("Profile changed recently; not re-requesting account",
			"user", username, "last_update", history[0].RecordedAt, "eligible_after", recheckBefore)
		report.Waiting = append(report.Waiting, username)
		return false, nil
	}

	request := models.AccountRequest{User: username, RequestedAt: rt.Clock.Now().UTC()}
	path, err := rt.Queue.WriteAccountRequest(request)
	if err != nil {
		return false, err
	}

	rt.Logger.Info("Requested account", "user", username, "file", path)
	report.Requested = append(report.Requested, username)
	return true, nil
}
