package models

import "time"

// AccountValidation is the external shell-account validation code kept on a user profile
type AccountValidation string

const (
	ValidationUnknown    AccountValidation = "0"
	ValidationRequested  AccountValidation = "1"
	ValidationValid      AccountValidation = "2"
	ValidationInProgress AccountValidation = "3"
	ValidationError      AccountValidation = "4"
	ValidationFailed     AccountValidation = "5" // Given up after repeated errors; needs an admin
)

// AllowsProvisioning reports whether storage may be provisioned for the account
func (v AccountValidation) AllowsProvisioning() bool {
	return v == ValidationValid
}

// ValidationRecord is one historical value of a user's validation code, newest first when listed
type ValidationRecord struct {
	Username   string            `json:"username" yaml:"username"`
	Validation AccountValidation `json:"validation" yaml:"validation"`
	RecordedAt time.Time         `json:"recorded_at" yaml:"recorded_at"`
}

// AccountRequest is written to the account queue to ask for a shell account
type AccountRequest struct {
	User        string    `json:"user"`
	RequestedAt time.Time `json:"requested_at"`
}
