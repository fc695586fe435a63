package services_test

import (
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/services"
)

func testDirs() models.StorageConfig {
	return models.StorageConfig{
		QueuePath:        "/srv/storage/queue",
		RunningPath:      "/srv/storage/running",
		CompletedPath:    "/srv/storage/completed",
		ArchivePath:      "/srv/storage/archive",
		AccountQueuePath: "/srv/accounts/queue",
	}
}

func newTestQueue(t *testing.T) (*services.TaskQueue, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	logger := lib.NewLoggerWithWriter(lib.LogLevelError, io.Discard)
	return services.NewTaskQueue(fs, testDirs(), logger), fs
}

func TestTaskQueue_Write(t *testing.T) {
	queue, fs := newTestQueue(t)

	task := models.StorageTask{
		TaskType:       "new allocation, add user",
		System:         "Lustre Work",
		User:           "bob",
		Permissions:    "rx",
		CFTaskID:       "000000101100000001",
		DependentTasks: []string{"000000100100000001"},
	}

	path, err := queue.Write(task, models.CategoryNewAllocation)
	require.NoError(t, err)
	assert.Equal(t, "/srv/storage/queue/new_allocation_taskid_000000101100000001.json", filepath.ToSlash(path))

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"system\": \"Lustre Work\"")

	var written models.StorageTask
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, task, written)

	entries, err := afero.ReadDir(fs, "/srv/storage/queue")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")

	_, err = queue.Write(task, models.CategoryNewAllocation)
	require.NoError(t, err, "rewriting the same task replaces the file")
}

func TestTaskQueue_WriteNotConfigured(t *testing.T) {
	logger := lib.NewLoggerWithWriter(lib.LogLevelError, io.Discard)
	queue := services.NewTaskQueue(afero.NewMemMapFs(), models.StorageConfig{}, logger)

	_, err := queue.Write(models.StorageTask{CFTaskID: "000000001100000001"}, models.CategoryUpdateQuota)

	var provisionErr *lib.ProvisionError
	require.ErrorAs(t, err, &provisionErr)
	assert.Equal(t, lib.CategoryConfiguration, provisionErr.Category)
}

func TestTaskQueue_WriteAccountRequest(t *testing.T) {
	queue, fs := newTestQueue(t)

	path, err := queue.WriteAccountRequest(models.AccountRequest{User: "bob", RequestedAt: storeNow})
	require.NoError(t, err)
	assert.Equal(t, "/srv/accounts/queue/account_bob.json", filepath.ToSlash(path))

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTaskQueue_CompletedIsRecursive(t *testing.T) {
	queue, fs := newTestQueue(t)

	files := []string{
		"/srv/storage/completed/update_quota_taskid_000000100100000002.json",
		"/srv/storage/completed/node7/new_allocation_taskid_000000101100000001.json",
		"/srv/storage/completed/.new_allocation_taskid_000000102100000001.json",
		"/srv/storage/completed/new_allocation_taskid_000000103100000001.json.part",
		"/srv/storage/completed/readme.json",
	}
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, f, []byte("{}"), 0644))
	}

	completed, err := queue.Completed()
	require.NoError(t, err)
	require.Len(t, completed, 2)

	assert.Equal(t, "000000101100000001", completed[0].TaskID)
	assert.Equal(t, "/srv/storage/completed/node7/new_allocation_taskid_000000101100000001.json", filepath.ToSlash(completed[0].Path))
	assert.Equal(t, "000000100100000002", completed[1].TaskID)
}

func TestTaskQueue_CompletedMissingDirectory(t *testing.T) {
	queue, _ := newTestQueue(t)

	completed, err := queue.Completed()
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestTaskQueue_Archive(t *testing.T) {
	queue, fs := newTestQueue(t)

	source := "/srv/storage/completed/update_quota_taskid_000000100100000002.json"
	require.NoError(t, afero.WriteFile(fs, source, []byte("{}"), 0644))

	at := time.Date(2026, 2, 3, 14, 5, 6, 0, time.Local)
	destination, err := queue.Archive(source, at)
	require.NoError(t, err)
	assert.Equal(t, "/srv/storage/archive/update_quota_taskid_000000100100000002_completed_02032026-140506.json",
		filepath.ToSlash(destination))

	exists, _ := afero.Exists(fs, source)
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, destination)
	assert.True(t, exists)
}

func TestTaskQueue_DeadLetter(t *testing.T) {
	queue, fs := newTestQueue(t)

	source := "/srv/storage/completed/new_allocation_taskid_999999999100000001.json"
	require.NoError(t, afero.WriteFile(fs, source, []byte("{}"), 0644))

	destination, err := queue.DeadLetter(source, storeNow)
	require.NoError(t, err)
	assert.Equal(t, "/srv/storage/archive/dead_letter", filepath.ToSlash(filepath.Dir(destination)))
}

func TestTaskQueue_CompletedSkipsNestedArchive(t *testing.T) {
	tests := []struct {
		name      string
		completed string
		archive   string
	}{
		{"clean paths", "/srv/storage/completed", "/srv/storage/completed/archive"},
		{"trailing slash on archive", "/srv/storage/completed", "/srv/storage/completed/archive/"},
		{"trailing slash on both", "/srv/storage/completed/", "/srv/storage/completed/archive/"},
		{"uncleaned archive", "/srv/storage/completed", "/srv/storage/completed/./archive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			dirs := testDirs()
			dirs.CompletedPath = tt.completed
			dirs.ArchivePath = tt.archive
			queue := services.NewTaskQueue(fs, dirs, lib.NewLoggerWithWriter(lib.LogLevelError, io.Discard))

			require.NoError(t, afero.WriteFile(fs, "/srv/storage/completed/archive/new_allocation_taskid_000000100100000001_completed_01012026-000000.json", []byte("{}"), 0644))
			require.NoError(t, afero.WriteFile(fs, "/srv/storage/completed/archive/dead_letter/new_allocation_taskid_000000999100000001_completed_01012026-000000.json", []byte("{}"), 0644))
			require.NoError(t, afero.WriteFile(fs, "/srv/storage/completed/new_allocation_taskid_000000101100000001.json", []byte("{}"), 0644))

			completed, err := queue.Completed()
			require.NoError(t, err)
			require.Len(t, completed, 1)
			assert.Equal(t, "000000101100000001", completed[0].TaskID)

			// Once archived, the file is not picked up again
			_, err = queue.Archive(completed[0].Path, storeNow)
			require.NoError(t, err)

			completed, err = queue.Completed()
			require.NoError(t, err)
			assert.Empty(t, completed)
		})
	}
}

func TestTaskQueue_ArchiveKeepsExistingFiles(t *testing.T) {
	queue, fs := newTestQueue(t)

	name := "new_allocation_taskid_000000100100000001.json"
	first := "/srv/storage/completed/a/" + name
	second := "/srv/storage/completed/b/" + name
	third := "/srv/storage/completed/c/" + name
	for i, path := range []string{first, second, third} {
		require.NoError(t, afero.WriteFile(fs, path, []byte{byte('1' + i)}, 0644))
	}

	var destinations []string
	for _, path := range []string{first, second, third} {
		destination, err := queue.Archive(path, storeNow)
		require.NoError(t, err)
		destinations = append(destinations, filepath.ToSlash(destination))
	}

	stem := "/srv/storage/archive/new_allocation_taskid_000000100100000001_completed_01052026-120000"
	assert.Equal(t, []string{stem + ".json", stem + "-1.json", stem + "-2.json"}, destinations)

	entries, err := afero.ReadDir(fs, "/srv/storage/archive")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	for i, destination := range destinations {
		data, err := afero.ReadFile(fs, destination)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte('1' + i)}, data)
	}
}

func TestTaskQueue_DeadLetterKeepsExistingFiles(t *testing.T) {
	queue, fs := newTestQueue(t)

	name := "new_allocation_taskid_999999999100000001.json"
	for _, dir := range []string{"a", "b"} {
		require.NoError(t, afero.WriteFile(fs, "/srv/storage/completed/"+dir+"/"+name, []byte("{}"), 0644))
	}

	first, err := queue.DeadLetter("/srv/storage/completed/a/"+name, storeNow)
	require.NoError(t, err)
	second, err := queue.DeadLetter("/srv/storage/completed/b/"+name, storeNow)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	entries, err := afero.ReadDir(fs, "/srv/storage/archive/dead_letter")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTaskQueue_ListIDsAndQueued(t *testing.T) {
	queue, fs := newTestQueue(t)

	_, err := queue.Write(models.StorageTask{CFTaskID: "000000100100000001", User: "alice"}, models.CategoryNewAllocation)
	require.NoError(t, err)
	_, err = queue.Write(models.StorageTask{
		CFTaskID:       "000000101100000001",
		User:           "bob",
		DependentTasks: []string{"000000100100000001"},
	}, models.CategoryNewAllocation)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/srv/storage/running/update_quota_taskid_000000102100000003.json", []byte("{}"), 0644))

	ids, err := queue.ListIDs("/srv/storage/queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"000000100100000001", "000000101100000001"}, ids)

	ids, err = queue.ListIDs("/srv/storage/running")
	require.NoError(t, err)
	assert.Equal(t, []string{"000000102100000003"}, ids)

	ids, err = queue.ListIDs("/srv/storage/missing")
	require.NoError(t, err)
	assert.Empty(t, ids)

	names, err := queue.QueuedFiles()
	require.NoError(t, err)
	require.Len(t, names, 2)

	task, err := queue.ReadQueued(names[1])
	require.NoError(t, err)
	assert.Equal(t, "bob", task.User)
	assert.Equal(t, []string{"000000100100000001"}, task.DependentTasks)
}

func TestArchiveFileName(t *testing.T) {
	at := time.Date(2026, 12, 31, 23, 59, 58, 0, time.UTC)
	assert.Equal(t, "x_taskid_1_completed_12312026-235958.json", services.ArchiveFileName("x_taskid_1.json", at))
}
