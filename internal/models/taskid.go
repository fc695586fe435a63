package models

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// TaskIDLength is the length of an encoded task id: 9 + 1 + 8 digits
	TaskIDLength = allocationUserIDDigits + 1 + sequenceDigits

	allocationUserIDDigits = 9
	sequenceDigits         = 8

	maxAllocationUserID = 999999999
	maxSequence         = 99999999
)

// TaskClass is the single category digit embedded in a task id
type TaskClass uint8

const (
	// TaskClassStorage marks storage provisioning tasks
	TaskClassStorage TaskClass = 1
	// TaskClassAccount marks account provisioning requests
	TaskClassAccount TaskClass = 2
)

// ErrMalformedTaskID is returned when a task id cannot be decoded
var ErrMalformedTaskID = errors.New("malformed task id")

// TaskID identifies one generation of provisioning work for one allocation-user
type TaskID struct {
	AllocationUserID int64
	Class            TaskClass
	Sequence         int64
}

// EncodeTaskID builds the 18-digit task id:
// zero-padded 9-digit allocation-user id, class digit, zero-padded 8-digit sequence
func EncodeTaskID(allocationUserID int64, class TaskClass, sequence int64) (string, error) {
	if allocationUserID < 0 || allocationUserID > maxAllocationUserID {
		return "", fmt.Errorf("allocation-user id %d does not fit in %d digits", allocationUserID, allocationUserIDDigits)
	}
	if class > 9 {
		return "", fmt.Errorf("task class %d is not a single digit", class)
	}
	if sequence < 0 || sequence > maxSequence {
		return "", fmt.Errorf("sequence %d does not fit in %d digits", sequence, sequenceDigits)
	}
	return fmt.Sprintf("%09d%d%08d", allocationUserID, class, sequence), nil
}

// String returns the encoded form of the id
func (id TaskID) String() string {
	s, err := EncodeTaskID(id.AllocationUserID, id.Class, id.Sequence)
	if err != nil {
		return fmt.Sprintf("invalid(%d/%d/%d)", id.AllocationUserID, id.Class, id.Sequence)
	}
	return s
}

// DecodeTaskID splits an encoded task id into its parts
func DecodeTaskID(s string) (TaskID, error) {
	if len(s) != TaskIDLength {
		return TaskID{}, fmt.Errorf("%w: %q has length %d, want %d", ErrMalformedTaskID, s, len(s), TaskIDLength)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return TaskID{}, fmt.Errorf("%w: %q is not numeric", ErrMalformedTaskID, s)
		}
	}

	allocationUserID, err := strconv.ParseInt(s[:allocationUserIDDigits], 10, 64)
	if err != nil {
		return TaskID{}, fmt.Errorf("%w: %v", ErrMalformedTaskID, err)
	}
	sequence, err := strconv.ParseInt(s[allocationUserIDDigits+1:], 10, 64)
	if err != nil {
		return TaskID{}, fmt.Errorf("%w: %v", ErrMalformedTaskID, err)
	}

	return TaskID{
		AllocationUserID: allocationUserID,
		Class:            TaskClass(s[allocationUserIDDigits] - '0'),
		Sequence:         sequence,
	}, nil
}

// PIDependencyID is the id of a PI's first provisioning task on an allocation.
// A PI's very first task is always sequence 1.
func PIDependencyID(piAllocationUserID int64) (string, error) {
	return EncodeTaskID(piAllocationUserID, TaskClassStorage, 1)
}
