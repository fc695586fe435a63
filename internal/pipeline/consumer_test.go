package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/pipeline"
	"github.com/trobanga/stagehand/internal/services"
)

func writeCompleted(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	path := completedFile(env, name)
	require.NoError(t, afero.WriteFile(env.fs, path, []byte(`{"status": "done"}`), 0644))
	return path
}

func consumerFixture() services.Fixture {
	return services.Fixture{
		Allocations: []models.Allocation{storageAllocation(10, "alice")},
		AllocationUsers: []models.AllocationUser{
			allocationUser(100, 10, "alice", models.StorageStatusPending),
			allocationUser(101, 10, "bob", models.StorageStatusProvisioned),
			allocationUser(102, 10, "carol", models.StorageStatusUpdateQuota),
		},
	}
}

func TestReconcileCompletedTasks_MarksProvisioned(t *testing.T) {
	env := newTestEnv(t, consumerFixture())
	source := writeCompleted(t, env, "new_allocation_taskid_000000100100000001.json")

	report, err := pipeline.ReconcileCompletedTasks(context.Background(), env.rt)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	result := report.Results[0]
	assert.Equal(t, pipeline.OutcomeProvisioned, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, models.StorageStatusProvisioned, storageStatus(t, env, 100))

	exists, _ := afero.Exists(env.fs, source)
	assert.False(t, exists, "completion file leaves the completed directory")

	expected := filepath.Join(env.rt.Config.Storage.ArchivePath,
		services.ArchiveFileName(filepath.Base(source), testNow))
	assert.Equal(t, expected, result.Destination)
	exists, _ = afero.Exists(env.fs, expected)
	assert.True(t, exists)

	count, err := env.store.CountStorageHistory(context.Background(), 100, models.StorageStatusProvisioned)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReconcileCompletedTasks_Outcomes(t *testing.T) {
	env := newTestEnv(t, consumerFixture())
	writeCompleted(t, env, "new_allocation_taskid_000000100100000001.json")
	writeCompleted(t, env, "new_permissions_taskid_000000101100000001.json")
	writeCompleted(t, env, "update_quota_taskid_000000102100000001.json")
	unknown := writeCompleted(t, env, "new_allocation_taskid_000000999100000001.json")
	malformed := writeCompleted(t, env, "new_allocation_taskid_12345.json")

	report, err := pipeline.ReconcileCompletedTasks(context.Background(), env.rt)
	require.NoError(t, err)
	require.Len(t, report.Results, 5)

	assert.Equal(t, 1, report.Count(pipeline.OutcomeProvisioned))
	assert.Equal(t, 1, report.Count(pipeline.OutcomeUnchanged))
	assert.Equal(t, 1, report.Count(pipeline.OutcomeSuperseded))
	assert.Equal(t, 2, report.Count(pipeline.OutcomeDeadLetter))

	assert.Equal(t, models.StorageStatusProvisioned, storageStatus(t, env, 101))
	assert.Equal(t, models.StorageStatusUpdateQuota, storageStatus(t, env, 102), "a newer request is left alone")

	deadLetter := env.rt.Config.Storage.DeadLetterDir()
	for _, source := range []string{unknown, malformed} {
		target := filepath.Join(deadLetter, services.ArchiveFileName(filepath.Base(source), testNow))
		exists, _ := afero.Exists(env.fs, target)
		assert.True(t, exists, target)
	}

	remaining, err := env.rt.Queue.Completed()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReconcileCompletedTasks_EmptyDirectory(t *testing.T) {
	env := newTestEnv(t, consumerFixture())

	report, err := pipeline.ReconcileCompletedTasks(context.Background(), env.rt)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}

func TestReconcileCompletedTasks_NotConfigured(t *testing.T) {
	config := testConfig()
	config.Storage.ArchivePath = ""
	env := newTestEnvWithConfig(t, consumerFixture(), config)
	source := writeCompleted(t, env, "new_allocation_taskid_000000100100000001.json")

	report, err := pipeline.ReconcileCompletedTasks(context.Background(), env.rt)
	require.NoError(t, err)
	assert.Empty(t, report.Results)

	exists, _ := afero.Exists(env.fs, source)
	assert.True(t, exists)
	assert.Equal(t, models.StorageStatusPending, storageStatus(t, env, 100))
}

func TestReconcileCompletedTasks_StuckFileIsRetried(t *testing.T) {
	env := newTestEnv(t, consumerFixture())
	source := writeCompleted(t, env, "new_allocation_taskid_000000100100000001.json")

	readOnly := &pipeline.Runtime{
		Config:  env.rt.Config,
		Store:   env.rt.Store,
		Queue:   services.NewTaskQueue(afero.NewReadOnlyFs(env.fs), env.rt.Config.Storage, env.rt.Logger),
		Clock:   env.rt.Clock,
		Logger:  env.rt.Logger,
		Metrics: env.rt.Metrics,
	}

	report, err := pipeline.ReconcileCompletedTasks(context.Background(), readOnly)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, pipeline.OutcomeStuck, report.Results[0].Outcome)
	assert.Error(t, report.Results[0].Err)

	exists, _ := afero.Exists(env.fs, source)
	assert.True(t, exists, "file stays for the next run")
	assert.Equal(t, models.StorageStatusProvisioned, storageStatus(t, env, 100))

	report, err = pipeline.ReconcileCompletedTasks(context.Background(), env.rt)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, pipeline.OutcomeUnchanged, report.Results[0].Outcome)
}

func TestProduceAndReconcile_FullCycle(t *testing.T) {
	env := newTestEnv(t, piAndMemberFixture())
	ctx := context.Background()

	produced, err := pipeline.ProducePendingTasks(ctx, env.rt)
	require.NoError(t, err)
	require.Len(t, produced.Emitted, 2)

	// The agent picks up the PI's task and finishes it
	piTask := produced.Emitted[0]
	require.NoError(t, env.fs.Rename(piTask.Path, completedFile(env, filepath.Base(piTask.Path))))

	report, err := pipeline.ReconcileCompletedTasks(ctx, env.rt)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(pipeline.OutcomeProvisioned))
	assert.Equal(t, models.StorageStatusProvisioned, storageStatus(t, env, 100))
	assert.Equal(t, models.StorageStatusPending, storageStatus(t, env, 101))

	// A quota change in the portal starts the next cycle with sequence 2
	require.NoError(t, env.store.TransitionStorageStatus(ctx, 100, models.StorageStatusProvisioned, models.StorageStatusUpdateQuota))

	produced, err = pipeline.ProducePendingTasks(ctx, env.rt)
	require.NoError(t, err)
	require.Len(t, produced.Emitted, 1)
	assert.Equal(t, "000000100100000002", produced.Emitted[0].TaskID)

	task := readTask(t, env, queueFile(env, "update_quota_taskid_000000100100000002.json"))
	assert.Equal(t, "update quotas for PI", task.TaskType)
}
