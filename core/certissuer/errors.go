package certissuer

import "errors"

var (
	// ErrPreconditionFailed is returned when issuance is requested for a
	// domain whose control has not been verified, or with the wrong
	// provider for the binding.
	ErrPreconditionFailed = errors.New("issuance precondition failed")

	// ErrCertificateMismatch is returned when a manually uploaded bundle
	// does not cover the binding value or the key does not match the
	// certificate.
	ErrCertificateMismatch = errors.New("certificate mismatch")

	// ErrCertificateExpired is returned for already-expired uploads and
	// for domains whose certificate lapsed before renewal succeeded.
	ErrCertificateExpired = errors.New("certificate expired")

	// ErrIssuanceFailed is returned once transient provider errors have
	// exhausted the bounded retry budget.
	ErrIssuanceFailed = errors.New("certificate issuance failed")

	// ErrManualRenewalRequired is reported by the renewal sweep for
	// manually managed certificates inside the renewal window; the
	// engine cannot renew those on the tenant's behalf.
	ErrManualRenewalRequired = errors.New("manual certificate requires tenant renewal")

	// ErrACMENotConfigured is returned when automated issuance is
	// requested but no ACME provider was wired in.
	ErrACMENotConfigured = errors.New("acme provider not configured")

	// ErrCertificateNotFound is returned when no stored certificate
	// exists for a domain.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrRegistryNil is returned when constructing a service without a registry.
	ErrRegistryNil = errors.New("registry cannot be nil")
)
