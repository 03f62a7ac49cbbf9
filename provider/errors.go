package provider

import "errors"

// Sentinel errors for cross-provider error classification.
// Backends wrap these so callers can handle error categories
// uniformly without importing provider-specific SDKs.
//
//	return fmt.Errorf("failed to delete instance: %w", provider.ErrNotFound)
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the request was rejected due to
	// invalid, expired, or missing credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrConflict indicates the provider rejected the request because of
	// the instance's current state, e.g. booting a running instance.
	ErrConflict = errors.New("conflict")
)
