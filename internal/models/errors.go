package models

import (
	"errors"
	"fmt"
)

var (
	// ErrServerOffline is returned when a remote system cannot be reached
	ErrServerOffline = errors.New("server offline")
	// ErrNotFound is returned when a remote or local entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrAuthFailed is returned when a credential is rejected
	ErrAuthFailed = errors.New("authentication failed")
	// ErrMissingExternalID is returned when a cross-reference id needed for a lookup is absent or malformed
	ErrMissingExternalID = errors.New("missing external id")
	// ErrDryRunOnly is returned when a dry-run-only rule is executed for real
	ErrDryRunOnly = errors.New("rule is restricted to dry runs")
	// ErrRuleDisabled is returned when a disabled rule is executed for real
	ErrRuleDisabled = errors.New("rule is disabled")
)

// ResolutionError is returned when no address of a media server answered
type ResolutionError struct {
	ServerID string
	Reason   string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve server %s: %s: %v", e.ServerID, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve server %s: %s", e.ServerID, e.Reason)
}

// Unwrap lets errors.Is match ErrServerOffline as well as the last connection error
func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrServerOffline}
	}
	return []error{ErrServerOffline, e.Err}
}
