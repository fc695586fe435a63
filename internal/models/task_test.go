package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/stagehand/internal/models"
)

func TestCategoryFor(t *testing.T) {
	cases := map[models.StorageStatus]models.TaskCategory{
		models.StorageStatusNew:               models.CategoryNewAllocation,
		models.StorageStatusUpdateQuota:       models.CategoryUpdateQuota,
		models.StorageStatusNewPermissions:    models.CategoryNewPermissions,
		models.StorageStatusChangePermissions: models.CategoryChangePermissions,
	}
	for status, want := range cases {
		got, ok := models.CategoryFor(status)
		assert.True(t, ok, status)
		assert.Equal(t, want, got)
	}

	_, ok := models.CategoryFor(models.StorageStatusPending)
	assert.False(t, ok)
}

func TestQueueFileName(t *testing.T) {
	assert.Equal(t, "update_quota_taskid_000000042100000003.json",
		models.QueueFileName(models.CategoryUpdateQuota, "000000042100000003"))
}

func TestClassifyTaskType(t *testing.T) {
	taskType, ok := models.ClassifyTaskType(true, models.StorageStatusNew)
	assert.True(t, ok)
	assert.Equal(t, "new allocation, provision space and permissions for PI", taskType)

	taskType, ok = models.ClassifyTaskType(false, models.StorageStatusNewPermissions)
	assert.True(t, ok)
	assert.Equal(t, "add permission for a new user", taskType)

	_, ok = models.ClassifyTaskType(false, models.StorageStatusProvisioned)
	assert.False(t, ok)
}

func TestStorageTask_JSONFields(t *testing.T) {
	task := models.StorageTask{
		System:      "Lustre Work",
		User:        "alice",
		Permissions: "rwx",
		CFTaskID:    "000000042100000001",
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "000000042100000001", fields["cf_task_id"])
	assert.Equal(t, "rwx", fields["permissions"])
	assert.NotContains(t, fields, "dependent_tasks")
	assert.NotContains(t, fields, "task_type")
}

func TestStoragePermission_WireValue(t *testing.T) {
	for permission, want := range map[models.StoragePermission]string{
		models.PermissionNone:      "none",
		models.PermissionReadOnly:  "rx",
		models.PermissionReadWrite: "rwx",
	} {
		got, ok := permission.WireValue()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := models.StoragePermission("Execute").WireValue()
	assert.False(t, ok)
}
