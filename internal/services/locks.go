package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trobanga/stagehand/internal/lib"
)

// RunLock is an exclusive advisory lock held for the duration of one pipeline run.
// It keeps two overlapping cron invocations from working the same rows.
type RunLock struct {
	pipeline string
	lockFile *os.File
	lockPath string
	logger   *lib.Logger
}

// RunLockPath returns the lock file used for pipeline inside dir
func RunLockPath(dir string, pipeline string) string {
	return filepath.Join(dir, fmt.Sprintf(".stagehand-%s.lock", pipeline))
}

// WithRunLock executes fn while holding the pipeline's run lock
func WithRunLock(dir string, pipeline string, logger *lib.Logger, fn func() error) error {
	lock, err := AcquireRunLock(dir, pipeline, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release run lock", "pipeline", pipeline, "error", err)
		}
	}()

	return fn()
}

func openLockFile(dir string, lockPath string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return lockFile, nil
}

// writeLockInfo records the holder in the lock file for operators
func (rl *RunLock) writeLockInfo() error {
	lockInfo := fmt.Sprintf("pid=%d\npipeline=%s\ntime=%s\n", os.Getpid(), rl.pipeline, time.Now().Format(time.RFC3339))
	_ = rl.lockFile.Truncate(0)
	_, _ = rl.lockFile.Seek(0, 0)
	_, _ = rl.lockFile.WriteString(lockInfo)
	return rl.lockFile.Sync()
}
