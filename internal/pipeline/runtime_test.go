package pipeline_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/pipeline"
	"github.com/trobanga/stagehand/internal/services"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	rt    *pipeline.Runtime
	store *services.MemoryStore
	fs    afero.Fs
	clk   *testclock.Clock
}

func testConfig() *models.ProjectConfig {
	config := models.DefaultConfig()
	config.Storage.QueuePath = "/srv/storage/queue"
	config.Storage.RunningPath = "/srv/storage/running"
	config.Storage.CompletedPath = "/srv/storage/completed"
	config.Storage.ArchivePath = "/srv/storage/archive"
	config.Storage.AccountQueuePath = "/srv/accounts/queue"
	return &config
}

func newTestEnv(t *testing.T, fixture services.Fixture) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, fixture, testConfig())
}

func newTestEnvWithConfig(t *testing.T, fixture services.Fixture, config *models.ProjectConfig) *testEnv {
	t.Helper()

	clk := testclock.NewClock(testNow)
	store := services.NewMemoryStore(clk)
	require.NoError(t, store.Seed(context.Background(), fixture))

	fs := afero.NewMemMapFs()
	logger := lib.NewLoggerWithWriter(lib.LogLevelDebug, io.Discard)

	return &testEnv{
		rt: &pipeline.Runtime{
			Config:  config,
			Store:   store,
			Queue:   services.NewTaskQueue(fs, config.Storage, logger),
			Clock:   clk,
			Logger:  logger,
			Metrics: services.NewRunMetrics(),
		},
		store: store,
		fs:    fs,
		clk:   clk,
	}
}

func storageAllocation(id int64, pi string) models.Allocation {
	return models.Allocation{
		ID:           id,
		ProjectID:    id,
		PI:           pi,
		Status:       models.AllocationStatusActive,
		ResourceName: "Lustre Work",
		ResourceType: models.ResourceTypeStorage,
		Attributes: []models.RawAttribute{
			{Name: "Storage Quota (GB)", Value: "500", HasUsage: true},
			{Name: "Storage Quota (File Count)", Value: "1000000", HasUsage: true},
			{Name: "Storage Project ID", Value: "2000001001"},
			{Name: "Storage Path", Value: "/projects/lab"},
		},
	}
}

func allocationUser(id, allocationID int64, username string, status models.StorageStatus) models.AllocationUser {
	return models.AllocationUser{
		ID:                id,
		AllocationID:      allocationID,
		Username:          username,
		Status:            models.UserStatusActive,
		StorageStatus:     status,
		StoragePermission: models.PermissionReadWrite,
	}
}

func validProfile(username string) services.ProfileFixture {
	return services.ProfileFixture{Username: username, Validation: models.ValidationValid}
}

func queueFile(env *testEnv, name string) string {
	return filepath.Join(env.rt.Config.Storage.QueuePath, name)
}

func completedFile(env *testEnv, name string) string {
	return filepath.Join(env.rt.Config.Storage.CompletedPath, name)
}
