package pipeline

import (
	"context"

	"github.com/juju/clock"
	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/services"
)

// Pipeline names used for locks, logs and metrics
const (
	PipelineProducer = "producer"
	PipelineConsumer = "consumer"
	PipelineUsage    = "usage"
)

// Runtime bundles the collaborators shared by every pipeline run
type Runtime struct {
	Config  *models.ProjectConfig
	Store   services.AllocationStore
	Queue   *services.TaskQueue
	Clock   clock.Clock
	Logger  *lib.Logger
	Metrics *services.RunMetrics
}

// withRetry runs a store operation, retrying transient failures with backoff
func (rt *Runtime) withRetry(ctx context.Context, operation string, op lib.RetryableOperation) error {
	attempt := 0
	config := lib.NewRetryConfigFromModel(rt.Config.Retry)
	return lib.ExecuteWithRetry(ctx, rt.Clock, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && lib.IsTransient(err) && attempt < config.MaxAttempts-1 {
			lib.LogRetry(rt.Logger, operation, attempt+1, config.MaxAttempts, err)
		}
		attempt++
		return err
	}, config, lib.IsTransient)
}
