package models

import (
	"fmt"
	"regexp"
)

// StorageTask is the JSON document handed to the provisioning agent
type StorageTask struct {
	TaskType       string   `json:"task_type,omitempty"`
	System         string   `json:"system"`
	LustrePID      string   `json:"lustre_pid,omitempty"`
	FileQuota      string   `json:"file_quota,omitempty"`
	CapacityQuota  string   `json:"capacity_quota,omitempty"`
	Path           string   `json:"path,omitempty"`
	User           string   `json:"user"`
	Permissions    string   `json:"permissions"`
	CFTaskID       string   `json:"cf_task_id"`
	DependentTasks []string `json:"dependent_tasks,omitempty"`
}

// TaskCategory selects the queue file name prefix
type TaskCategory string

const (
	CategoryNewAllocation     TaskCategory = "new_allocation"
	CategoryChangePermissions TaskCategory = "change_permissions"
	CategoryNewPermissions    TaskCategory = "new_permissions"
	CategoryUpdateQuota       TaskCategory = "update_quota"
)

// CategoryFor returns the queue category for a requested storage status
func CategoryFor(status StorageStatus) (TaskCategory, bool) {
	switch status {
	case StorageStatusNew:
		return CategoryNewAllocation, true
	case StorageStatusChangePermissions:
		return CategoryChangePermissions, true
	case StorageStatusNewPermissions:
		return CategoryNewPermissions, true
	case StorageStatusUpdateQuota:
		return CategoryUpdateQuota, true
	default:
		return "", false
	}
}

// QueueFileName returns "<category>_taskid_<id>.json"
func QueueFileName(category TaskCategory, taskID string) string {
	return fmt.Sprintf("%s_taskid_%s.json", category, taskID)
}

type taskTypeKey struct {
	isPI   bool
	status StorageStatus
}

var taskTypes = map[taskTypeKey]string{
	{true, StorageStatusNew}:                "new allocation, provision space and permissions for PI",
	{true, StorageStatusUpdateQuota}:        "update quotas for PI",
	{true, StorageStatusChangePermissions}:  "change permissions for PI",
	{true, StorageStatusNewPermissions}:     "change permissions for PI",
	{false, StorageStatusNew}:               "new allocation, add user",
	{false, StorageStatusChangePermissions}: "change permissions on existing user",
	{false, StorageStatusNewPermissions}:    "add permission for a new user",
	{false, StorageStatusUpdateQuota}:       "update quotas for user",
}

// ClassifyTaskType returns the human-readable task_type annotation.
// Unmatched combinations return false and leave the field unset.
func ClassifyTaskType(isPI bool, status StorageStatus) (string, bool) {
	t, ok := taskTypes[taskTypeKey{isPI, status}]
	return t, ok
}

var taskIDPattern = regexp.MustCompile(`taskid_(\d+)`)

// TaskIDFromFileName extracts the digits after "taskid_" in a file name.
// The result is not length-checked; DecodeTaskID rejects malformed ids.
func TaskIDFromFileName(name string) (string, bool) {
	m := taskIDPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}
