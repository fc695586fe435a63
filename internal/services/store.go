package services

import (
	"context"

	"github.com/trobanga/stagehand/internal/models"
)

// AllocationStore is the portal database as seen by the provisioning pipelines.
// Lookups that match nothing return models.ErrNotFound; status transitions are
// compare-and-swap and return models.ErrStatusConflict when they lose.
type AllocationStore interface {
	// ListStorageCandidates returns allocation-users on Active Storage allocations whose
	// storage status and user status are in the given sets, ordered by allocation id
	// then allocation-user id.
	ListStorageCandidates(ctx context.Context, storageStatuses []models.StorageStatus, userStatuses []models.UserStatus) ([]models.AllocationUser, error)

	GetAllocation(ctx context.Context, allocationID int64) (models.Allocation, error)
	GetAllocationUser(ctx context.Context, allocationUserID int64) (models.AllocationUser, error)
	FindAllocationUser(ctx context.Context, allocationID int64, username string) (models.AllocationUser, error)
	ListAllocationUsers(ctx context.Context) ([]models.AllocationUser, error)

	// CountStorageHistory counts history entries of an allocation-user that held status
	CountStorageHistory(ctx context.Context, allocationUserID int64, status models.StorageStatus) (int, error)

	// TransitionStorageStatus moves an allocation-user from one storage status to
	// another and records the new value in its history.
	TransitionStorageStatus(ctx context.Context, allocationUserID int64, from, to models.StorageStatus) error

	// ListActiveStorageAllocations returns Active allocations on Storage resources
	ListActiveStorageAllocations(ctx context.Context) ([]models.Allocation, error)

	// SetUsage records the current consumption on the named allocation attribute
	SetUsage(ctx context.Context, allocationID int64, attributeName string, value float64) error

	AccountValidation(ctx context.Context, username string) (models.AccountValidation, error)
	// AccountValidationHistory returns up to n entries, newest first
	AccountValidationHistory(ctx context.Context, username string, n int) ([]models.ValidationRecord, error)
	SetAccountValidation(ctx context.Context, username string, code models.AccountValidation) error

	Close() error
}

func containsStorageStatus(set []models.StorageStatus, s models.StorageStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsUserStatus(set []models.UserStatus, s models.UserStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
