package verification

import "errors"

var (
	// ErrVerificationFailed is returned when verification is in the
	// terminal failed state and must be explicitly restarted.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrAlreadyVerified is returned when starting verification for a
	// domain whose control is already proven.
	ErrAlreadyVerified = errors.New("domain already verified")

	// ErrRegistryNil is returned when constructing a driver without a registry.
	ErrRegistryNil = errors.New("registry cannot be nil")
)
