package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/domainkit/core/domainregistry"
)

const uniqueViolationCode = "23505"

// DomainStore is the PostgreSQL implementation of
// domainregistry.Store. The partial unique index on value makes
// CreateIfAbsent atomic: a concurrent insert for the same value loses
// with a unique violation, surfaced as ErrConflict.
type DomainStore struct {
	pool *pgxpool.Pool
}

// NewDomainStore creates a store over the given pool.
func NewDomainStore(pool *pgxpool.Pool) (*DomainStore, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	return &DomainStore{pool: pool}, nil
}

// querier lets store operations join a caller transaction from the context.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *DomainStore) db(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

const domainColumns = `id, value, tenant_id, binding_type, verification_state, certificate_state,
	certificate_provider, certificate_expires_at, challenge_token, last_error,
	created_at, updated_at, deleted_at, released`

func (s *DomainStore) CreateIfAbsent(ctx context.Context, d *domainregistry.CustomDomain) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO custom_domains (`+domainColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.Value, d.TenantID, d.BindingType, d.VerificationState, d.CertificateState,
		d.CertificateProvider, nullableTime(d.CertificateExpiresAt), d.ChallengeToken, d.LastError,
		d.CreatedAt, d.UpdatedAt, d.DeletedAt, d.Released,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domainregistry.ErrConflict
		}
		return fmt.Errorf("insert custom domain: %w", err)
	}
	return nil
}

func (s *DomainStore) Get(ctx context.Context, value string) (*domainregistry.CustomDomain, error) {
	row := s.db(ctx).QueryRow(ctx, `
		SELECT `+domainColumns+`
		FROM custom_domains
		WHERE value = $1 AND NOT released`, value)

	d, err := scanDomain(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainregistry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select custom domain: %w", err)
	}
	return d, nil
}

func (s *DomainStore) Update(ctx context.Context, d *domainregistry.CustomDomain) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE custom_domains SET
			tenant_id = $2,
			binding_type = $3,
			verification_state = $4,
			certificate_state = $5,
			certificate_provider = $6,
			certificate_expires_at = $7,
			challenge_token = $8,
			last_error = $9,
			updated_at = $10,
			deleted_at = $11,
			released = $12
		WHERE value = $1 AND NOT released`,
		d.Value, d.TenantID, d.BindingType, d.VerificationState, d.CertificateState,
		d.CertificateProvider, nullableTime(d.CertificateExpiresAt), d.ChallengeToken,
		d.LastError, d.UpdatedAt, d.DeletedAt, d.Released,
	)
	if err != nil {
		return fmt.Errorf("update custom domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainregistry.ErrNotFound
	}
	return nil
}

func (s *DomainStore) ListActiveForTenant(ctx context.Context, tenantID string) ([]*domainregistry.CustomDomain, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+domainColumns+`
		FROM custom_domains
		WHERE tenant_id = $1 AND NOT released AND deleted_at IS NULL
		ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant domains: %w", err)
	}
	return collectDomains(rows)
}

func (s *DomainStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]*domainregistry.CustomDomain, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+domainColumns+`
		FROM custom_domains
		WHERE NOT released AND deleted_at IS NULL
			AND certificate_state = $1
			AND certificate_expires_at < $2
		ORDER BY certificate_expires_at`, domainregistry.CertificateActive, t)
	if err != nil {
		return nil, fmt.Errorf("list expiring domains: %w", err)
	}
	return collectDomains(rows)
}

func (s *DomainStore) Snapshot(ctx context.Context) ([]*domainregistry.CustomDomain, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+domainColumns+`
		FROM custom_domains
		WHERE NOT released`)
	if err != nil {
		return nil, fmt.Errorf("snapshot custom domains: %w", err)
	}
	return collectDomains(rows)
}

func collectDomains(rows pgx.Rows) ([]*domainregistry.CustomDomain, error) {
	defer rows.Close()

	var out []*domainregistry.CustomDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom domain: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custom domains: %w", err)
	}
	return out, nil
}

func scanDomain(row pgx.Row) (*domainregistry.CustomDomain, error) {
	var d domainregistry.CustomDomain
	var expiresAt *time.Time

	err := row.Scan(
		&d.ID, &d.Value, &d.TenantID, &d.BindingType, &d.VerificationState, &d.CertificateState,
		&d.CertificateProvider, &expiresAt, &d.ChallengeToken, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt, &d.DeletedAt, &d.Released,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt != nil {
		d.CertificateExpiresAt = *expiresAt
	}
	return &d, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
