package models

// StorageStatus tracks an allocation-user's position in the storage provisioning pipeline
type StorageStatus string

const (
	StorageStatusNew               StorageStatus = "New"
	StorageStatusUpdateQuota       StorageStatus = "UpdateQuota"
	StorageStatusNewPermissions    StorageStatus = "NewPermissions"
	StorageStatusChangePermissions StorageStatus = "ChangePermissions"
	StorageStatusPending           StorageStatus = "Pending"
	StorageStatusProvisioned       StorageStatus = "Provisioned"
	StorageStatusNone              StorageStatus = "None"
)

// RequestedStorageStatuses are the states in which an allocation-user enters the pipeline
var RequestedStorageStatuses = []StorageStatus{
	StorageStatusNew,
	StorageStatusUpdateQuota,
	StorageStatusNewPermissions,
	StorageStatusChangePermissions,
}

// EligibleUserStatuses restricts producer candidates. Removed is included so that
// permission revocations are still emitted for departing users.
var EligibleUserStatuses = []UserStatus{
	UserStatusActive,
	UserStatusRemoved,
}

// IsRequested reports whether the status asks for provisioning work
func (s StorageStatus) IsRequested() bool {
	for _, requested := range RequestedStorageStatuses {
		if s == requested {
			return true
		}
	}
	return false
}

// IsValidStorageStatus checks if the storage status is recognized
func IsValidStorageStatus(s StorageStatus) bool {
	switch s {
	case StorageStatusNew, StorageStatusUpdateQuota, StorageStatusNewPermissions,
		StorageStatusChangePermissions, StorageStatusPending, StorageStatusProvisioned,
		StorageStatusNone:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a storage status transition is valid
// Valid transitions:
//
//	New | UpdateQuota | NewPermissions | ChangePermissions -> Pending
//	Pending -> Provisioned
//
// Portal edits that re-request work (Provisioned -> UpdateQuota etc.) happen
// outside the pipeline and are not checked here.
func (s StorageStatus) CanTransitionTo(next StorageStatus) bool {
	switch {
	case s.IsRequested():
		return next == StorageStatusPending
	case s == StorageStatusPending:
		return next == StorageStatusProvisioned
	default:
		return false
	}
}
