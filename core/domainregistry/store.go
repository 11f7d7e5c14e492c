package domainregistry

import (
	"context"
	"time"
)

// Store is the persistence boundary for registry records. Implementations
// must guarantee that CreateIfAbsent performs the uniqueness check and the
// insert as one atomic unit.
type Store interface {
	// CreateIfAbsent inserts the record unless a non-released record
	// already claims the same value, in which case it returns ErrConflict.
	CreateIfAbsent(ctx context.Context, domain *CustomDomain) error

	// Get returns the current non-released record for value, or ErrNotFound.
	Get(ctx context.Context, value string) (*CustomDomain, error)

	// Update replaces the non-released record for domain.Value.
	// Returns ErrNotFound if no such record exists.
	Update(ctx context.Context, domain *CustomDomain) error

	// ListActiveForTenant returns all non-tombstoned records owned by tenantID.
	ListActiveForTenant(ctx context.Context, tenantID string) ([]*CustomDomain, error)

	// ListExpiringBefore returns non-tombstoned records whose certificate
	// is active and expires before the given instant.
	ListExpiringBefore(ctx context.Context, t time.Time) ([]*CustomDomain, error)

	// Snapshot returns all non-released records.
	Snapshot(ctx context.Context) ([]*CustomDomain, error)
}
