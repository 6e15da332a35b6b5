package domain

import "errors"

var (
	// Request validation / lookup errors, surfaced synchronously to the caller.
	ErrInvalidParams = errors.New("invalid generation parameters")
	ErrNotFound      = errors.New("entity not found")
	ErrUnauthorized  = errors.New("caller is not authorized")

	// State machine errors.
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrNotReady          = errors.New("job has no artifact attached")

	// Provider errors recorded on failed jobs.
	ErrProviderTransient = errors.New("transient provider failure")
	ErrProviderExhausted = errors.New("provider retries exhausted")
	ErrMalformedResponse = errors.New("malformed provider response")

	// Infra errors.
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrLockNotAcquired    = errors.New("could not acquire job lock")
)
