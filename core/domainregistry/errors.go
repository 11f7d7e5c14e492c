package domainregistry

import "errors"

var (
	// ErrConflict is returned when a value is already claimed by a
	// non-released record.
	ErrConflict = errors.New("binding value already taken")

	// ErrNotFound is returned when no record exists for a value.
	ErrNotFound = errors.New("binding not found")

	// ErrInvalidBinding is returned for malformed binding requests.
	ErrInvalidBinding = errors.New("invalid binding")

	// ErrInvalidValue is returned when a value does not match the
	// syntactic shape required by its binding type.
	ErrInvalidValue = errors.New("invalid binding value")

	// ErrInvalidStateTransition is returned when a transition is
	// requested from an illegal predecessor state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrTombstoned is returned when mutating a soft-deleted record.
	ErrTombstoned = errors.New("binding is tombstoned")

	// ErrNotTombstoned is returned when releasing a live record.
	ErrNotTombstoned = errors.New("binding is not tombstoned")

	// ErrAlreadyInProgress is returned when a second verification or
	// issuance operation is started for the same value.
	ErrAlreadyInProgress = errors.New("operation already in progress")

	// ErrOperationInFlight is returned when releasing a value whose
	// in-flight operation has not finished unwinding yet.
	ErrOperationInFlight = errors.New("operation still in flight")

	// ErrStoreNil is returned when constructing a registry without a store.
	ErrStoreNil = errors.New("store cannot be nil")
)
