package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
)

// EmittedTask describes one task file written by the producer
type EmittedTask struct {
	TaskID string
	User   string
	Path   string
}

// ProduceResult summarizes a producer run
type ProduceResult struct {
	Emitted []EmittedTask
	// Unprovisioned lists users skipped because their account is not validated, deduplicated in first-seen order
	Unprovisioned []string
	Failed        int
}

// ProducePendingTasks emits one queue file for every allocation-user waiting in a requested
// storage status and moves it to Pending. Per-record failures are logged and skipped.
// Returns early only when ctx is cancelled or the candidate query fails.
func ProducePendingTasks(ctx context.Context, rt *Runtime) (*ProduceResult, error) {
	startTime := rt.Clock.Now()
	result := &ProduceResult{}

	if !rt.Config.Storage.ProducerConfigured() {
		rt.Logger.Warn(lib.ErrNotConfigured("task producer", "storage.queue_path").Error())
		return result, nil
	}

	lib.LogRunStarted(rt.Logger, PipelineProducer)

	var candidates []models.AllocationUser
	err := rt.withRetry(ctx, "list storage candidates", func(ctx context.Context) error {
		var err error
		candidates, err = rt.Store.ListStorageCandidates(ctx, models.RequestedStorageStatuses, models.EligibleUserStatuses)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("failed to list storage candidates: %w", err)
	}

	seen := make(map[string]bool)
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		emitted, err := produceOne(ctx, rt, candidate)
		var notValidated *accountNotValidatedError
		switch {
		case errors.As(err, &notValidated):
			rt.Logger.Debug(notValidated.Error())
			if !seen[candidate.Username] {
				seen[candidate.Username] = true
				result.Unprovisioned = append(result.Unprovisioned, candidate.Username)
			}
		case err != nil:
			result.Failed++
			rt.Logger.Error("Failed to produce task",
				"allocation_user_id", candidate.ID,
				"user", candidate.Username,
				"error", err)
		default:
			result.Emitted = append(result.Emitted, *emitted)
		}
	}

	rt.Metrics.RunCompleted(PipelineProducer, rt.Clock.Now())
	lib.LogRunCompleted(rt.Logger, PipelineProducer, len(result.Emitted), rt.Clock.Now().Sub(startTime))
	return result, nil
}

// accountNotValidatedError marks the precondition skip; it is not a failure
type accountNotValidatedError struct {
	*lib.ProvisionError
}

func produceOne(ctx context.Context, rt *Runtime, user models.AllocationUser) (*EmittedTask, error) {
	if user.Status != models.UserStatusRemoved {
		if err := checkAccount(ctx, rt, user); err != nil {
			return nil, err
		}
	}

	var allocation models.Allocation
	err := rt.withRetry(ctx, "get allocation", func(ctx context.Context) error {
		var err error
		allocation, err = rt.Store.GetAllocation(ctx, user.AllocationID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("allocation %d: %w", user.AllocationID, err)
	}
	if !allocation.IsActiveStorage() {
		return nil, fmt.Errorf("allocation %d is no longer an active storage allocation: %w", allocation.ID, models.ErrStatusConflict)
	}

	isPI := user.Username == allocation.PI

	dependencies, err := piDependencies(ctx, rt, allocation, isPI)
	if err != nil {
		return nil, err
	}

	var provisioned int
	err = rt.withRetry(ctx, "count storage history", func(ctx context.Context) error {
		var err error
		provisioned, err = rt.Store.CountStorageHistory(ctx, user.ID, models.StorageStatusProvisioned)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("history of allocation-user %d: %w", user.ID, err)
	}

	taskID, err := models.EncodeTaskID(user.ID, models.TaskClassStorage, int64(provisioned)+1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRecord, err)
	}

	task, err := buildTask(rt, allocation, user, isPI, taskID, dependencies)
	if err != nil {
		return nil, err
	}

	category, ok := models.CategoryFor(user.StorageStatus)
	if !ok {
		return nil, fmt.Errorf("%w: storage status %s has no queue category", models.ErrInvalidRecord, user.StorageStatus)
	}

	// A Pending allocation-user always has a task file on disk
	path, err := rt.Queue.Write(task, category)
	if err != nil {
		return nil, err
	}

	err = rt.Store.TransitionStorageStatus(ctx, user.ID, user.StorageStatus, models.StorageStatusPending)
	switch models.ClassifyLookup(err) {
	case models.LookupOK:
	case models.LookupNotFound:
		return nil, lib.ErrUnknownAllocationUser(taskID, user.ID)
	case models.LookupInvalid, models.LookupFailed:
		if errors.Is(err, models.ErrStatusConflict) {
			rt.Logger.Warn("Allocation-user changed while its task was written; leaving file for the agent",
				"task_id", taskID, "error", err)
		}
		return nil, err
	}

	rt.Metrics.TaskEmitted(string(category))
	lib.LogTaskEmitted(rt.Logger, taskID, user.Username, path)
	return &EmittedTask{TaskID: taskID, User: user.Username, Path: path}, nil
}

func checkAccount(ctx context.Context, rt *Runtime, user models.AllocationUser) error {
	var code models.AccountValidation
	err := rt.withRetry(ctx, "get account validation", func(ctx context.Context) error {
		var err error
		code, err = rt.Store.AccountValidation(ctx, user.Username)
		return err
	})

	switch models.ClassifyLookup(err) {
	case models.LookupOK:
		if !code.AllowsProvisioning() {
			return &accountNotValidatedError{lib.ErrAccountNotValidated(user.Username, code)}
		}
		return nil
	case models.LookupNotFound:
		return fmt.Errorf("no profile for %s: %w", user.Username, err)
	case models.LookupInvalid:
		return fmt.Errorf("invalid profile for %s: %w", user.Username, err)
	default:
		return fmt.Errorf("checking profile of %s: %w", user.Username, err)
	}
}

// piDependencies returns the PI's first task id when a non-PI user must wait for the PI
func piDependencies(ctx context.Context, rt *Runtime, allocation models.Allocation, isPI bool) ([]string, error) {
	if isPI {
		return nil, nil
	}

	var pi models.AllocationUser
	err := rt.withRetry(ctx, "find PI allocation-user", func(ctx context.Context) error {
		var err error
		pi, err = rt.Store.FindAllocationUser(ctx, allocation.ID, allocation.PI)
		return err
	})

	switch models.ClassifyLookup(err) {
	case models.LookupOK:
		if pi.StorageStatus == models.StorageStatusProvisioned {
			return nil, nil
		}
		id, err := models.PIDependencyID(pi.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidRecord, err)
		}
		return []string{id}, nil
	case models.LookupNotFound:
		rt.Logger.Warn("PI is not a user of the allocation; emitting without dependency",
			"allocation_id", allocation.ID, "pi", allocation.PI)
		return nil, nil
	case models.LookupInvalid:
		return nil, fmt.Errorf("invalid PI record on allocation %d: %w", allocation.ID, err)
	default:
		return nil, fmt.Errorf("looking up PI of allocation %d: %w", allocation.ID, err)
	}
}

func buildTask(rt *Runtime, allocation models.Allocation, user models.AllocationUser, isPI bool, taskID string, dependencies []string) (models.StorageTask, error) {
	attrs, err := models.ParseAttributes(allocation.Attributes, rt.Config.Storage.Attributes)
	if err != nil {
		return models.StorageTask{}, lib.ErrInvalidAllocation(allocation.ID, err)
	}

	permissions, ok := user.StoragePermission.WireValue()
	if !ok {
		return models.StorageTask{}, fmt.Errorf("%w: allocation-user %d has unknown storage permission %q",
			models.ErrInvalidRecord, user.ID, user.StoragePermission)
	}
	if user.Status == models.UserStatusRemoved && user.StoragePermission != models.PermissionNone {
		rt.Logger.Warn("Allocation user is removed but still has permissions",
			"user", user.Username, "permissions", string(user.StoragePermission))
	}

	task := models.StorageTask{
		System:         allocation.ResourceName,
		User:           user.Username,
		Permissions:    permissions,
		CFTaskID:       taskID,
		DependentTasks: dependencies,
	}
	if taskType, ok := models.ClassifyTaskType(isPI, user.StorageStatus); ok {
		task.TaskType = taskType
	} else {
		rt.Logger.Debug("No task type for status", "user", user.Username, "status", string(user.StorageStatus))
	}
	task.LustrePID, _ = attrs.Get(models.AttrProjectID)
	task.FileQuota, _ = attrs.Get(models.AttrFileCount)
	task.CapacityQuota, _ = attrs.Get(models.AttrQuotaGB)
	task.Path, _ = attrs.Get(models.AttrPath)

	return task, nil
}

// Summary renders the run counts for the command line
func (r *ProduceResult) Summary(duration time.Duration) string {
	return fmt.Sprintf("%d task(s) emitted, %d user(s) awaiting account validation, %d failure(s) in %s",
		len(r.Emitted), len(r.Unprovisioned), r.Failed, duration)
}
