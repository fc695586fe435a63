package lib

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/trobanga/stagehand/internal/models"
)

// ProvisionError represents an operator-facing error with context and guidance
type ProvisionError struct {
	Category    ErrorCategory
	Message     string   // Short description of what went wrong
	Cause       error    // Underlying error
	Guidance    []string // What the operator can do to fix it
	IsRetryable bool     // Will the next scheduled run likely succeed?
}

// ErrorCategory classifies errors along the pipeline's error taxonomy
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileSystem    ErrorCategory = "filesystem"
	CategoryPrecondition  ErrorCategory = "precondition"
	CategoryIntegrity     ErrorCategory = "integrity"
	CategoryExternal      ErrorCategory = "external"
	CategoryState         ErrorCategory = "state"
)

// Error implements the error interface
func (e *ProvisionError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for an operator's terminal
func (e *ProvisionError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("How to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	if e.IsRetryable {
		sb.WriteString("\nThis error is transient; the next scheduled run will try again.\n")
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *ProvisionError) Unwrap() error {
	return e.Cause
}

// Configuration Errors

// ErrNotConfigured creates an error for a pipeline whose directories are not set
func ErrNotConfigured(pipeline string, keys ...string) *ProvisionError {
	guidance := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		guidance = append(guidance, fmt.Sprintf("Set '%s' in stagehand.yaml or STAGEHAND_%s", key,
			strings.ToUpper(strings.ReplaceAll(key, ".", "_"))))
	}
	guidance = append(guidance, "The run is skipped until the setting is present")

	return &ProvisionError{
		Category:    CategoryConfiguration,
		Message:     fmt.Sprintf("%s is not configured", pipeline),
		Guidance:    guidance,
		IsRetryable: false,
	}
}

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(cause error) *ProvisionError {
	return &ProvisionError{
		Category: CategoryConfiguration,
		Message:  "Invalid configuration",
		Cause:    cause,
		Guidance: []string{
			"Check the reported field in your config file",
			"Environment variables with the STAGEHAND_ prefix override the file",
		},
		IsRetryable: false,
	}
}

// Filesystem Errors

// ErrTaskWrite creates an error for a task file that could not be written or moved
func ErrTaskWrite(path string, cause error) *ProvisionError {
	return &ProvisionError{
		Category: CategoryFileSystem,
		Message:  fmt.Sprintf("Cannot write task file %s", path),
		Cause:    cause,
		Guidance: []string{
			"Check that the queue directory exists and is writable",
			"Check free space on the shared volume",
		},
		IsRetryable: !errors.Is(cause, os.ErrPermission),
	}
}

// Precondition Errors

// ErrAccountNotValidated creates an error for a user whose shell account is not ready
func ErrAccountNotValidated(username string, code models.AccountValidation) *ProvisionError {
	return &ProvisionError{
		Category:    CategoryPrecondition,
		Message:     fmt.Sprintf("Account for %s is not validated (code %s)", username, code),
		Guidance:    []string{"An account-provisioning request is issued; storage follows once the account validates"},
		IsRetryable: true,
	}
}

// Integrity Errors

// ErrUnknownAllocationUser creates an error for a completed task that maps to no allocation-user
func ErrUnknownAllocationUser(taskID string, allocationUserID int64) *ProvisionError {
	return &ProvisionError{
		Category: CategoryIntegrity,
		Message:  fmt.Sprintf("Task %s refers to allocation-user %d which does not exist", taskID, allocationUserID),
		Guidance: []string{
			"The task file was moved to the dead-letter directory",
			"Check whether the allocation-user was deleted while the task was in flight",
		},
		IsRetryable: false,
	}
}

// ErrInvalidAllocation creates an error for an allocation whose attributes fail validation
func ErrInvalidAllocation(allocationID int64, cause error) *ProvisionError {
	return &ProvisionError{
		Category:    CategoryIntegrity,
		Message:     fmt.Sprintf("Allocation %d has invalid attributes", allocationID),
		Cause:       cause,
		Guidance:    []string{"Fix the allocation attributes in the portal"},
		IsRetryable: false,
	}
}

// External Errors

// ErrUsageUnavailable creates an error for an unusable response from the usage source
func ErrUsageUnavailable(projectID string, cause error) *ProvisionError {
	return &ProvisionError{
		Category:    CategoryExternal,
		Message:     fmt.Sprintf("Cannot read Lustre usage for project %s", projectID),
		Cause:       cause,
		Guidance:    []string{"Check that the lfs command runs on this host", "The allocation is skipped for this run"},
		IsRetryable: true,
	}
}

// State Errors

// ErrRunLocked creates an error when another process is running the same pipeline
func ErrRunLocked(pipeline string, lockPath string) *ProvisionError {
	return &ProvisionError{
		Category: CategoryState,
		Message:  fmt.Sprintf("The %s pipeline is already running in another process", pipeline),
		Guidance: []string{
			"Wait for the other run to complete",
			"Check for overlapping cron entries",
			fmt.Sprintf("If stuck, remove the lock file: %s", lockPath),
		},
		IsRetryable: true,
	}
}

// Helper Functions

// WrapError wraps a standard error with ProvisionError context
func WrapError(category ErrorCategory, message string, cause error, guidance ...string) *ProvisionError {
	return &ProvisionError{
		Category:    category,
		Message:     message,
		Cause:       cause,
		Guidance:    guidance,
		IsRetryable: IsTransient(cause),
	}
}

// ClassifyError examines an error and returns a ProvisionError for display
func ClassifyError(err error) *ProvisionError {
	if err == nil {
		return nil
	}

	var provisionErr *ProvisionError
	if errors.As(err, &provisionErr) {
		return provisionErr
	}

	switch models.ClassifyLookup(err) {
	case models.LookupNotFound, models.LookupInvalid:
		return &ProvisionError{
			Category:    CategoryIntegrity,
			Message:     "Record is missing or invalid",
			Cause:       err,
			Guidance:    []string{"Check the allocation data in the portal"},
			IsRetryable: false,
		}
	}

	if errors.Is(err, os.ErrPermission) {
		return &ProvisionError{
			Category:    CategoryFileSystem,
			Message:     "Permission denied",
			Cause:       err,
			Guidance:    []string{"Check file/directory permissions", "Run as the provisioning service account"},
			IsRetryable: false,
		}
	}

	return &ProvisionError{
		Category:    CategoryExternal,
		Message:     "An error occurred",
		Cause:       err,
		Guidance:    []string{"Check the technical details below", "See logs for more information"},
		IsRetryable: IsTransient(err),
	}
}
