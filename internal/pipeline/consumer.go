package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/services"
)

// ReconcileOutcome is what happened to one completion file
type ReconcileOutcome string

const (
	// OutcomeProvisioned: the allocation-user moved from Pending to Provisioned
	OutcomeProvisioned ReconcileOutcome = "provisioned"
	// OutcomeUnchanged: the allocation-user was already Provisioned
	OutcomeUnchanged ReconcileOutcome = "unchanged"
	// OutcomeSuperseded: the allocation-user has a newer request; it was left alone
	OutcomeSuperseded ReconcileOutcome = "superseded"
	// OutcomeDeadLetter: the file could not be matched to an allocation-user
	OutcomeDeadLetter ReconcileOutcome = "dead_letter"
	// OutcomeStuck: the file could not be moved and stays in the completed directory
	OutcomeStuck ReconcileOutcome = "stuck"
)

// ReconcileResult records one completion file
type ReconcileResult struct {
	TaskID      string
	Source      string
	Destination string
	Outcome     ReconcileOutcome
	Err         error
}

// ReconcileReport summarizes a consumer run
type ReconcileReport struct {
	Results []ReconcileResult
}

// Count returns the number of results with the given outcome
func (r *ReconcileReport) Count(outcome ReconcileOutcome) int {
	n := 0
	for _, result := range r.Results {
		if result.Outcome == outcome {
			n++
		}
	}
	return n
}

// ReconcileCompletedTasks drains the completed directory: every completion file is
// matched to its allocation-user, the user is marked Provisioned, and the file is
// archived. Files that cannot be matched go to the dead-letter directory.
// Running against an empty completed directory does nothing.
func ReconcileCompletedTasks(ctx context.Context, rt *Runtime) (*ReconcileReport, error) {
	startTime := rt.Clock.Now()
	report := &ReconcileReport{}

	if !rt.Config.Storage.ConsumerConfigured() {
		rt.Logger.Warn(lib.ErrNotConfigured("task consumer", "storage.completed_path", "storage.archive_path").Error())
		return report, nil
	}

	lib.LogRunStarted(rt.Logger, PipelineConsumer)

	completed, err := rt.Queue.Completed()
	if err != nil {
		return report, err
	}

	for _, file := range completed {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := reconcileOne(ctx, rt, file)
		report.Results = append(report.Results, result)
		rt.Metrics.TaskReconciled(string(result.Outcome))

		if result.Outcome == OutcomeStuck {
			rt.Logger.Error("Failed to move completion file", "task_id", result.TaskID, "file", result.Source, "error", result.Err)
			continue
		}
		if result.Err != nil {
			rt.Logger.Error("Failed to reconcile task", "task_id", result.TaskID, "error", result.Err)
		}
		lib.LogTaskReconciled(rt.Logger, result.TaskID, string(result.Outcome), result.Destination)
	}

	rt.Metrics.RunCompleted(PipelineConsumer, rt.Clock.Now())
	lib.LogRunCompleted(rt.Logger, PipelineConsumer, len(report.Results), rt.Clock.Now().Sub(startTime))
	return report, nil
}

func reconcileOne(ctx context.Context, rt *Runtime, file services.CompletedTask) ReconcileResult {
	result := ReconcileResult{TaskID: file.TaskID, Source: file.Path}

	outcome, err := markProvisioned(ctx, rt, file.TaskID)
	result.Outcome = outcome
	result.Err = err

	move := rt.Queue.Archive
	if outcome == OutcomeDeadLetter {
		move = rt.Queue.DeadLetter
	}

	destination, moveErr := move(file.Path, rt.Clock.Now())
	if moveErr != nil {
		result.Outcome = OutcomeStuck
		result.Err = errors.Join(err, moveErr)
		return result
	}
	result.Destination = destination
	return result
}

// markProvisioned applies a completion to the store and decides where the file goes
func markProvisioned(ctx context.Context, rt *Runtime, taskID string) (ReconcileOutcome, error) {
	id, err := models.DecodeTaskID(taskID)
	if err != nil {
		return OutcomeDeadLetter, err
	}

	var user models.AllocationUser
	err = rt.withRetry(ctx, "get allocation-user", func(ctx context.Context) error {
		var err error
		user, err = rt.Store.GetAllocationUser(ctx, id.AllocationUserID)
		return err
	})

	switch models.ClassifyLookup(err) {
	case models.LookupOK:
	case models.LookupNotFound:
		return OutcomeDeadLetter, lib.ErrUnknownAllocationUser(taskID, id.AllocationUserID)
	case models.LookupInvalid:
		return OutcomeDeadLetter, fmt.Errorf("allocation-user %d is invalid: %w", id.AllocationUserID, err)
	case models.LookupFailed:
		return OutcomeDeadLetter, fmt.Errorf("looking up allocation-user %d: %w", id.AllocationUserID, err)
	}

	switch {
	case user.StorageStatus == models.StorageStatusProvisioned:
		return OutcomeUnchanged, nil
	case user.StorageStatus != models.StorageStatusPending:
		rt.Logger.Warn("Completion arrived for an allocation-user that is not pending; keeping its current status",
			"task_id", taskID, "user", user.Username, "storage_status", string(user.StorageStatus))
		return OutcomeSuperseded, nil
	}

	err = rt.withRetry(ctx, "mark provisioned", func(ctx context.Context) error {
		return rt.Store.TransitionStorageStatus(ctx, user.ID, models.StorageStatusPending, models.StorageStatusProvisioned)
	})
	switch models.ClassifyLookup(err) {
	case models.LookupOK:
		return OutcomeProvisioned, nil
	case models.LookupNotFound:
		return OutcomeDeadLetter, lib.ErrUnknownAllocationUser(taskID, user.ID)
	case models.LookupInvalid:
		return OutcomeDeadLetter, fmt.Errorf("allocation-user %d is invalid: %w", user.ID, err)
	default:
		if errors.Is(err, models.ErrStatusConflict) {
			rt.Logger.Warn("Allocation-user changed while reconciling; keeping its current status",
				"task_id", taskID, "error", err)
			return OutcomeSuperseded, nil
		}
		return OutcomeDeadLetter, fmt.Errorf("marking allocation-user %d provisioned: %w", user.ID, err)
	}
}
