package models

import (
	"fmt"
	"time"
)

// Allocation is a grant of a resource to a project
type Allocation struct {
	ID                int64            `json:"id" yaml:"id"`
	ProjectID         int64            `json:"project_id" yaml:"project_id"`
	PI                string           `json:"pi" yaml:"pi"` // Username of the project owner
	Status            AllocationStatus `json:"status" yaml:"status"`
	ResourceName      string           `json:"resource_name" yaml:"resource_name"` // First resource on the allocation, e.g. "Lustre Work"
	ResourceType      ResourceType     `json:"resource_type" yaml:"resource_type"`
	ProjectAttributes []string         `json:"project_attributes,omitempty" yaml:"project_attributes,omitempty"`
	Attributes        []RawAttribute   `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// AllocationUser is one user's membership in one allocation
type AllocationUser struct {
	ID                int64             `json:"id" yaml:"id"`
	AllocationID      int64             `json:"allocation_id" yaml:"allocation_id"`
	Username          string            `json:"username" yaml:"username"`
	Status            UserStatus        `json:"status" yaml:"status"`
	StorageStatus     StorageStatus     `json:"storage_status" yaml:"storage_status"`
	StoragePermission StoragePermission `json:"storage_permission" yaml:"storage_permission"`
}

// StorageHistoryEntry records a storage_status value an allocation-user held
type StorageHistoryEntry struct {
	AllocationUserID int64         `json:"allocation_user_id" yaml:"allocation_user_id"`
	StorageStatus    StorageStatus `json:"storage_status" yaml:"storage_status"`
	RecordedAt       time.Time     `json:"recorded_at" yaml:"recorded_at"`
}

// AllocationStatus defines the lifecycle state of an allocation
type AllocationStatus string

const (
	AllocationStatusActive  AllocationStatus = "Active"
	AllocationStatusExpired AllocationStatus = "Expired"
	AllocationStatusNew     AllocationStatus = "New"
	AllocationStatusDenied  AllocationStatus = "Denied"
	AllocationStatusRevoked AllocationStatus = "Revoked"
)

// ResourceType classifies the resource an allocation grants
type ResourceType string

const (
	ResourceTypeCluster ResourceType = "Cluster"
	ResourceTypeStorage ResourceType = "Storage"
	ResourceTypeCloud   ResourceType = "Cloud"
)

// UserStatus defines the lifecycle state of an allocation-user
type UserStatus string

const (
	UserStatusActive           UserStatus = "Active"
	UserStatusError            UserStatus = "Error"
	UserStatusRemoved          UserStatus = "Removed"
	UserStatusPendingEULA      UserStatus = "PendingEULA"
	UserStatusDeclinedEULA     UserStatus = "DeclinedEULA"
	UserStatusPendingStartDate UserStatus = "PendingStartDate"
	UserStatusDeactivated      UserStatus = "Deactivated"
)

// StoragePermission is the access level an allocation-user should hold on the storage path
type StoragePermission string

const (
	PermissionNone      StoragePermission = "None"
	PermissionReadOnly  StoragePermission = "Read Only"
	PermissionReadWrite StoragePermission = "Read and Write"
)

// deprecatedProjectMarkers flag projects whose storage is no longer tracked
var deprecatedProjectMarkers = []string{"deprecated_work", "deprecated_group"}

// Validate checks the enum fields read from the portal
func (u AllocationUser) Validate() error {
	if !IsValidStorageStatus(u.StorageStatus) {
		return fmt.Errorf("%w: allocation-user %d has invalid storage_status %q", ErrInvalidRecord, u.ID, u.StorageStatus)
	}
	if !IsValidStoragePermission(u.StoragePermission) {
		return fmt.Errorf("%w: allocation-user %d has invalid storage_permission %q", ErrInvalidRecord, u.ID, u.StoragePermission)
	}
	if !IsValidUserStatus(u.Status) {
		return fmt.Errorf("%w: allocation-user %d has invalid status %q", ErrInvalidRecord, u.ID, u.Status)
	}
	return nil
}

// IsDeprecated reports whether the owning project carries a deprecation marker
func (a Allocation) IsDeprecated() bool {
	for _, value := range a.ProjectAttributes {
		for _, marker := range deprecatedProjectMarkers {
			if value == marker {
				return true
			}
		}
	}
	return false
}

// IsActiveStorage reports whether the allocation is an Active allocation on a Storage resource
func (a Allocation) IsActiveStorage() bool {
	return a.Status == AllocationStatusActive && a.ResourceType == ResourceTypeStorage
}

// WireValue maps the permission onto the task file vocabulary (none|rx|rwx)
func (p StoragePermission) WireValue() (string, bool) {
	switch p {
	case PermissionNone:
		return "none", true
	case PermissionReadOnly:
		return "rx", true
	case PermissionReadWrite:
		return "rwx", true
	default:
		return "", false
	}
}

// IsValidStoragePermission checks if the permission is recognized
func IsValidStoragePermission(p StoragePermission) bool {
	_, ok := p.WireValue()
	return ok
}

// IsValidUserStatus checks if the allocation-user status is recognized
func IsValidUserStatus(s UserStatus) bool {
	switch s {
	case UserStatusActive, UserStatusError, UserStatusRemoved, UserStatusPendingEULA,
		UserStatusDeclinedEULA, UserStatusPendingStartDate, UserStatusDeactivated:
		return true
	default:
		return false
	}
}
