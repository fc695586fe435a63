//go:build unix

package services

import (
	"fmt"
	"os"
	"syscall"

	"github.com/trobanga/stagehand/internal/lib"
)

// AcquireRunLock takes the pipeline's lock in dir without blocking (Unix implementation).
// A lock held by another process yields a lib.ProvisionError in the state category.
func AcquireRunLock(dir string, pipeline string, logger *lib.Logger) (*RunLock, error) {
	lockPath := RunLockPath(dir, pipeline)
	lockFile, err := openLockFile(dir, lockPath)
	if err != nil {
		return nil, err
	}

	// flock() is advisory; every stagehand run checks it
	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = lockFile.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, lib.ErrRunLocked(pipeline, lockPath)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lock := &RunLock{
		pipeline: pipeline,
		lockFile: lockFile,
		lockPath: lockPath,
		logger:   logger,
	}

	if err := lock.writeLockInfo(); err != nil {
		logger.Warn("Failed to write lock info", "pipeline", pipeline, "error", err)
	}

	logger.Debug("Acquired run lock", "pipeline", pipeline, "pid", os.Getpid())

	return lock, nil
}

// Release releases the run lock (Unix implementation)
func (rl *RunLock) Release() error {
	if rl.lockFile == nil {
		return nil
	}

	if err := syscall.Flock(int(rl.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		rl.logger.Warn("Failed to release flock", "pipeline", rl.pipeline, "error", err)
	}

	if err := rl.lockFile.Close(); err != nil {
		rl.logger.Warn("Failed to close lock file", "pipeline", rl.pipeline, "error", err)
		return err
	}

	rl.logger.Debug("Released run lock", "pipeline", rl.pipeline, "pid", os.Getpid())
	rl.lockFile = nil

	return nil
}

// IsRunLocked reports whether another process holds the pipeline's lock (Unix implementation)
func IsRunLocked(dir string, pipeline string) bool {
	lockPath := RunLockPath(dir, pipeline)

	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return false
	}

	lockFile, err := os.Open(lockPath)
	if err != nil {
		return false
	}
	defer func() {
		_ = lockFile.Close()
	}()

	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		return err == syscall.EWOULDBLOCK
	}

	_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	return false
}
