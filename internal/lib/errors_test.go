package lib_test

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
)

func TestProvisionError_Error(t *testing.T) {
	err := &lib.ProvisionError{
		Category: lib.CategoryFileSystem,
		Message:  "Cannot write task file",
		Cause:    errors.New("disk full"),
	}

	result := err.Error()
	assert.Contains(t, result, "[FILESYSTEM]")
	assert.Contains(t, result, "Cannot write task file")
	assert.Contains(t, result, "disk full")
}

func TestProvisionError_UserMessage(t *testing.T) {
	err := lib.ErrRunLocked("producer", "/srv/queue/.stagehand-producer.lock")

	msg := err.UserMessage()
	assert.Contains(t, msg, "Error: The producer pipeline is already running")
	assert.Contains(t, msg, "How to fix:")
	assert.Contains(t, msg, "3. If stuck, remove the lock file: /srv/queue/.stagehand-producer.lock")
	assert.Contains(t, msg, "next scheduled run")
}

func TestProvisionError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("row 4: %w", models.ErrInvalidRecord)
	err := lib.ErrInvalidAllocation(4, cause)

	assert.ErrorIs(t, err, models.ErrInvalidRecord)
	assert.Equal(t, lib.CategoryIntegrity, err.Category)
}

func TestErrNotConfigured_Guidance(t *testing.T) {
	err := lib.ErrNotConfigured("task consumer", "storage.completed_path", "storage.archive_path")

	assert.Equal(t, lib.CategoryConfiguration, err.Category)
	assert.Contains(t, err.Error(), "task consumer is not configured")
	assert.Contains(t, err.Guidance[0], "STAGEHAND_STORAGE_COMPLETED_PATH")
	assert.Contains(t, err.Guidance[1], "STAGEHAND_STORAGE_ARCHIVE_PATH")
	assert.False(t, err.IsRetryable)
}

func TestErrTaskWrite_PermissionNotRetryable(t *testing.T) {
	assert.False(t, lib.ErrTaskWrite("/q/x.json", os.ErrPermission).IsRetryable)
	assert.True(t, lib.ErrTaskWrite("/q/x.json", errors.New("no space left on device")).IsRetryable)
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, lib.ClassifyError(nil))

	original := lib.ErrUnknownAllocationUser("000000009100000001", 9)
	wrapped := fmt.Errorf("reconcile: %w", original)
	assert.Same(t, original, lib.ClassifyError(wrapped))

	classified := lib.ClassifyError(fmt.Errorf("user 2: %w", models.ErrNotFound))
	assert.Equal(t, lib.CategoryIntegrity, classified.Category)

	classified = lib.ClassifyError(fmt.Errorf("open: %w", os.ErrPermission))
	assert.Equal(t, lib.CategoryFileSystem, classified.Category)

	classified = lib.ClassifyError(errors.New("database is locked"))
	assert.Equal(t, lib.CategoryExternal, classified.Category)
	assert.True(t, classified.IsRetryable)
}
