package lib

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/trobanga/stagehand/internal/models"
)

// CalculateBackoff computes exponential backoff duration
// Formula: min(initialBackoff * 2^attempt, maxBackoff)
func CalculateBackoff(attempt int, initialBackoffMs int64, maxBackoffMs int64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoffMs := float64(initialBackoffMs) * math.Pow(2, float64(attempt))

	if backoffMs > float64(maxBackoffMs) {
		backoffMs = float64(maxBackoffMs)
	}

	return time.Duration(backoffMs) * time.Millisecond
}

// RetryConfig holds retry strategy parameters
type RetryConfig struct {
	MaxAttempts      int
	InitialBackoffMs int64
	MaxBackoffMs     int64
}

// NewRetryConfigFromModel creates RetryConfig from models.RetryConfig
func NewRetryConfigFromModel(config models.RetryConfig) RetryConfig {
	return RetryConfig{
		MaxAttempts:      config.MaxAttempts,
		InitialBackoffMs: config.InitialBackoffMs,
		MaxBackoffMs:     config.MaxBackoffMs,
	}
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func(ctx context.Context) error

// ExecuteWithRetry executes an operation with exponential backoff retry logic.
// Backoff waits go through clk so tests can advance time.
// Returns nil if operation succeeds, or the last error if all retries are exhausted.
func ExecuteWithRetry(ctx context.Context, clk clock.Clock, operation RetryableOperation, config RetryConfig, shouldRetry func(error) bool) error {
	var lastErr error

	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt == attempts-1 {
			break
		}

		backoff := CalculateBackoff(attempt, config.InitialBackoffMs, config.MaxBackoffMs)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(backoff):
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// IsTransient reports whether an error is worth retrying within the same run.
// Missing or invalid records never are; cancellation never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if models.ClassifyLookup(err) != models.LookupFailed {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	transientErrors := []string{
		"database is locked",
		"busy",
		"timeout",
		"temporary failure",
		"resource temporarily unavailable",
		"connection reset",
		"eof",
	}

	for _, pattern := range transientErrors {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}
