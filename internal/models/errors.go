package models

import "errors"

var (
	// ErrNotFound is returned by store lookups that match no record
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRecord is returned when a stored record fails boundary validation
	ErrInvalidRecord = errors.New("invalid record")
	// ErrStatusConflict is returned when a compare-and-swap status transition loses
	ErrStatusConflict = errors.New("storage status changed concurrently")
)

// LookupResult classifies the outcome of a store lookup
type LookupResult int

const (
	LookupOK LookupResult = iota
	LookupNotFound
	LookupInvalid
	LookupFailed
)

func (r LookupResult) String() string {
	switch r {
	case LookupOK:
		return "ok"
	case LookupNotFound:
		return "not_found"
	case LookupInvalid:
		return "invalid"
	default:
		return "failed"
	}
}

// ClassifyLookup maps a lookup error onto a LookupResult
func ClassifyLookup(err error) LookupResult {
	switch {
	case err == nil:
		return LookupOK
	case errors.Is(err, ErrNotFound):
		return LookupNotFound
	case errors.Is(err, ErrInvalidRecord), errors.Is(err, ErrMalformedTaskID):
		return LookupInvalid
	default:
		return LookupFailed
	}
}
