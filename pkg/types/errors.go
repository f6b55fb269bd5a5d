package types

import "errors"

// Error taxonomy shared across components. Wrap with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrNotConfigured marks a missing credential or required setting.
	// Fatal at startup or on first use, never downgraded.
	ErrNotConfigured = errors.New("not configured")

	// ErrAuthenticationFailed marks a rejected portal login.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotFound marks an absent record, patient or study.
	ErrNotFound = errors.New("not found")

	// ErrTimeout marks an exhausted bounded wait (login markers, search
	// markers, viewer-frame polling).
	ErrTimeout = errors.New("timed out")

	// ErrTransport marks a channel-level failure, distinct from
	// application-level message errors.
	ErrTransport = errors.New("transport failure")
)
