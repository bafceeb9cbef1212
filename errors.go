package gateway

import "errors"

// Sentinel errors for the gateway as a whole. Subpackages define their
// own richer error types (e.g. pkg/serial.NackError); those types do not
// wrap these sentinels.
var (
	// ErrInvalidArgument signals a caller-side validation error:
	// surfaced immediately, never retried.
	ErrInvalidArgument = errors.New("gateway: invalid argument")

	// ErrTransport signals the underlying transport (UART or CAN) failed.
	ErrTransport = errors.New("gateway: transport failure")

	// ErrConfiguration signals a missing or invalid configuration value
	// at startup; callers fall back to documented defaults.
	ErrConfiguration = errors.New("gateway: configuration error")
)
