package domainregistry

import (
	"time"
)

// BindingType identifies how a tenant is reached.
type BindingType string

const (
	// BindingPathSlug routes via a path segment on the platform domain.
	BindingPathSlug BindingType = "path-slug"

	// BindingSubdomain routes via {slug}.{base-domain}.
	BindingSubdomain BindingType = "subdomain"

	// BindingCustomDomain routes via a fully qualified tenant-owned domain.
	BindingCustomDomain BindingType = "custom-domain"
)

// VerificationState tracks proof of domain control.
type VerificationState string

const (
	VerificationPending   VerificationState = "pending"
	VerificationVerifying VerificationState = "verifying"
	VerificationVerified  VerificationState = "verified"
	VerificationFailed    VerificationState = "failed"
)

// CertificateState tracks the TLS certificate lifecycle for a binding.
type CertificateState string

const (
	CertificateNone           CertificateState = "none"
	CertificateIssuing        CertificateState = "issuing"
	CertificateActive         CertificateState = "active"
	CertificateRenewing       CertificateState = "renewing"
	CertificateExpired        CertificateState = "expired"
	CertificateIssuanceFailed CertificateState = "issuance_failed"
)

// CertificateProvider selects how certificates are obtained for a binding.
type CertificateProvider string

const (
	// ProviderACME obtains certificates automatically via the ACME protocol.
	ProviderACME CertificateProvider = "acme"

	// ProviderManual expects the tenant to upload a certificate bundle.
	ProviderManual CertificateProvider = "manual"
)

// Availability is the result of an availability check.
type Availability string

const (
	Available Availability = "available"
	Taken     Availability = "taken"
	Invalid   Availability = "invalid"
)

// CustomDomain is the registry record for a single binding.
// Value is unique across all binding types; the record is tombstoned
// (DeletedAt set) on unbind and released (uniqueness claim freed) only
// after in-flight work has been cancelled.
type CustomDomain struct {
	ID                   string
	TenantID             string
	BindingType          BindingType
	Value                string
	VerificationState    VerificationState
	CertificateState     CertificateState
	CertificateProvider  CertificateProvider
	CertificateExpiresAt time.Time
	ChallengeToken       string
	LastError            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
	Released             bool
}

// Tombstoned reports whether the binding has been soft-deleted.
func (d *CustomDomain) Tombstoned() bool {
	return d.DeletedAt != nil
}

// Routable reports whether traffic may be resolved to this binding at
// the given instant. Path slugs only need verified control; everything
// else needs an unexpired active certificate.
func (d *CustomDomain) Routable(now time.Time) bool {
	if d.Tombstoned() || d.Released {
		return false
	}
	if d.BindingType == BindingPathSlug {
		return d.VerificationState == VerificationVerified
	}
	if d.VerificationState != VerificationVerified {
		return false
	}
	switch d.CertificateState {
	case CertificateActive, CertificateRenewing:
		// Renewing keeps serving the previous certificate until it
		// actually expires.
		return d.CertificateExpiresAt.After(now)
	default:
		return false
	}
}

// Clone returns a deep copy of the record.
func (d *CustomDomain) Clone() *CustomDomain {
	if d == nil {
		return nil
	}
	cp := *d
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
