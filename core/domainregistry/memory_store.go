package domainregistry

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for tests and local
// development. A released record gives up its slot in the value map, so
// the value can be claimed again while history is kept per tenant index
// only as long as the record lives.
type MemoryStore struct {
	mu       sync.RWMutex
	byValue  map[string]*CustomDomain
	byTenant map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byValue:  make(map[string]*CustomDomain),
		byTenant: make(map[string]map[string]struct{}),
	}
}

func (ms *MemoryStore) CreateIfAbsent(ctx context.Context, domain *CustomDomain) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if existing, ok := ms.byValue[domain.Value]; ok && !existing.Released {
		return ErrConflict
	}

	cp := domain.Clone()
	ms.byValue[cp.Value] = cp

	idx, ok := ms.byTenant[cp.TenantID]
	if !ok {
		idx = make(map[string]struct{})
		ms.byTenant[cp.TenantID] = idx
	}
	idx[cp.Value] = struct{}{}

	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, value string) (*CustomDomain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	d, ok := ms.byValue[value]
	if !ok || d.Released {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (ms *MemoryStore) Update(ctx context.Context, domain *CustomDomain) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	existing, ok := ms.byValue[domain.Value]
	if !ok || existing.Released {
		return ErrNotFound
	}

	ms.byValue[domain.Value] = domain.Clone()
	return nil
}

func (ms *MemoryStore) ListActiveForTenant(ctx context.Context, tenantID string) ([]*CustomDomain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*CustomDomain
	for value := range ms.byTenant[tenantID] {
		d, ok := ms.byValue[value]
		if !ok || d.Released || d.Tombstoned() || d.TenantID != tenantID {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (ms *MemoryStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]*CustomDomain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*CustomDomain
	for _, d := range ms.byValue {
		if d.Released || d.Tombstoned() {
			continue
		}
		if d.CertificateState != CertificateActive {
			continue
		}
		if d.CertificateExpiresAt.Before(t) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (ms *MemoryStore) Snapshot(ctx context.Context) ([]*CustomDomain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*CustomDomain, 0, len(ms.byValue))
	for _, d := range ms.byValue {
		if d.Released {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}
