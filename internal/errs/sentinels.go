// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/sync layers.
var (
	// ErrNotFound indicates the referenced case/attendance/user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation indicates a unique key clash (e.g., case_number taken).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrUnauthorized indicates the caller may not perform the operation
	// (e.g., release by a non-holder).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated indicates a missing or expired remote credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTransport indicates a network, timeout or non-2xx failure talking to the remote store.
	ErrTransport = errors.New("sync transport error")

	// ErrSyncInProgress is returned when a sync cycle is requested while one is running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidState indicates a lifecycle step out of order (e.g., check-out without check-in).
	ErrInvalidState = errors.New("invalid state")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation indicates malformed input (missing field, unknown enum value).
	ErrValidation = errors.New("validation")
)
