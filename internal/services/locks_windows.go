//go:build windows

package services

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/trobanga/stagehand/internal/lib"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	LOCKFILE_FAIL_IMMEDIATELY = 0x00000001
	LOCKFILE_EXCLUSIVE_LOCK   = 0x00000002
	ERROR_LOCK_VIOLATION      = syscall.Errno(33)
)

func lockFileEx(f *os.File) (bool, error) {
	overlapped := syscall.Overlapped{}
	r1, _, err := procLockFileEx.Call(
		uintptr(syscall.Handle(f.Fd())),
		uintptr(LOCKFILE_EXCLUSIVE_LOCK|LOCKFILE_FAIL_IMMEDIATELY),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	return r1 != 0, err
}

func unlockFileEx(f *os.File) error {
	overlapped := syscall.Overlapped{}
	_, _, err := procUnlockFileEx.Call(
		uintptr(syscall.Handle(f.Fd())),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// AcquireRunLock takes the pipeline's lock in dir without blocking (Windows implementation)
func AcquireRunLock(dir string, pipeline string, logger *lib.Logger) (*RunLock, error) {
	lockPath := RunLockPath(dir, pipeline)
	lockFile, err := openLockFile(dir, lockPath)
	if err != nil {
		return nil, err
	}

	ok, err := lockFileEx(lockFile)
	if !ok {
		_ = lockFile.Close()
		if err == ERROR_LOCK_VIOLATION {
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

// Release releases the run lock (Windows implementation)
func (rl *RunLock) Release() error {
	if rl.lockFile == nil {
		return nil
	}

	if err := unlockFileEx(rl.lockFile); err != nil {
		rl.logger.Warn("Failed to release lock", "pipeline", rl.pipeline, "error", err)
	}

	if err := rl.lockFile.Close(); err != nil {
		rl.logger.Warn("Failed to close lock file", "pipeline", rl.pipeline, "error", err)
		return err
	}

	rl.logger.Debug("Released run lock", "pipeline", rl.pipeline, "pid", os.Getpid())
	rl.lockFile = nil

	return nil
}

// IsRunLocked reports whether another process holds the pipeline's lock (Windows implementation)
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

	ok, err := lockFileEx(lockFile)
	if !ok {
		return err == ERROR_LOCK_VIOLATION
	}

	_ = unlockFileEx(lockFile)
	return false
}
