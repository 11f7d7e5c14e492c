package domainregistry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/domainkit/core/domainregistry"
)

func newRegistry(t *testing.T, opts ...domainregistry.Option) *domainregistry.Registry {
	t.Helper()
	r, err := domainregistry.New(domainregistry.NewMemoryStore(), opts...)
	require.NoError(t, err)
	return r
}

func bindingReq(value string, bindingType domainregistry.BindingType) domainregistry.BindingRequest {
	return domainregistry.BindingRequest{
		TenantID:            "t1",
		BindingType:         bindingType,
		Value:               value,
		CertificateProvider: domainregistry.ProviderACME,
		Actor:               "user:1",
	}
}

func TestNewRegistry(t *testing.T) {
	_, err := domainregistry.New(nil)
	assert.ErrorIs(t, err, domainregistry.ErrStoreNil)
}

func TestRegistryCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending record", func(t *testing.T) {
		r := newRegistry(t)

		d, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, "t1", d.TenantID)
		assert.Equal(t, domainregistry.VerificationPending, d.VerificationState)
		assert.Equal(t, domainregistry.CertificateNone, d.CertificateState)
	})

	t.Run("path slug starts verified", func(t *testing.T) {
		r := newRegistry(t)

		d, err := r.Create(ctx, bindingReq("blog", domainregistry.BindingPathSlug))
		require.NoError(t, err)
		assert.Equal(t, domainregistry.VerificationVerified, d.VerificationState)
	})

	t.Run("normalizes value", func(t *testing.T) {
		r := newRegistry(t)

		d, err := r.Create(ctx, bindingReq("  Shop.Example.COM ", domainregistry.BindingCustomDomain))
		require.NoError(t, err)
		assert.Equal(t, "shop.example.com", d.Value)
	})

	t.Run("conflict on taken value", func(t *testing.T) {
		r := newRegistry(t)

		_, err := r.Create(ctx, bindingReq("acme", domainregistry.BindingSubdomain))
		require.NoError(t, err)

		_, err = r.Create(ctx, bindingReq("acme", domainregistry.BindingSubdomain))
		assert.ErrorIs(t, err, domainregistry.ErrConflict)
	})

	t.Run("uniqueness namespace is shared across binding types", func(t *testing.T) {
		r := newRegistry(t)

		_, err := r.Create(ctx, bindingReq("acme", domainregistry.BindingPathSlug))
		require.NoError(t, err)

		_, err = r.Create(ctx, bindingReq("acme", domainregistry.BindingSubdomain))
		assert.ErrorIs(t, err, domainregistry.ErrConflict)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		r := newRegistry(t)

		_, err := r.Create(ctx, domainregistry.BindingRequest{
			BindingType:         domainregistry.BindingSubdomain,
			Value:               "acme",
			CertificateProvider: domainregistry.ProviderACME,
		})
		assert.ErrorIs(t, err, domainregistry.ErrInvalidBinding)

		req := bindingReq("acme", domainregistry.BindingSubdomain)
		req.CertificateProvider = "bogus"
		_, err = r.Create(ctx, req)
		assert.ErrorIs(t, err, domainregistry.ErrInvalidBinding)

		_, err = r.Create(ctx, bindingReq("UPPER CASE", domainregistry.BindingSubdomain))
		assert.ErrorIs(t, err, domainregistry.ErrInvalidValue)
	})
}

func TestRegistryConcurrentCreate(t *testing.T) {
	// Exactly one of N simultaneous requests for the same value wins.
	r := newRegistry(t)
	ctx := context.Background()

	const workers = 16
	errs := make([]error, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := range workers {
		go func(i int) {
			defer done.Done()
			start.Wait()
			_, errs[i] = r.Create(ctx, bindingReq("acme", domainregistry.BindingSubdomain))
		}(i)
	}
	start.Done()
	done.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, domainregistry.ErrConflict)
		}
	}
	assert.Equal(t, 1, created)
}

func TestRegistryCheckAvailability(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, bindingReq("taken", domainregistry.BindingSubdomain))
	require.NoError(t, err)

	tests := []struct {
		name        string
		bindingType domainregistry.BindingType
		value       string
		want        domainregistry.Availability
	}{
		{"free slug", domainregistry.BindingSubdomain, "acme", domainregistry.Available},
		{"taken slug", domainregistry.BindingSubdomain, "taken", domainregistry.Taken},
		{"taken across binding types", domainregistry.BindingPathSlug, "taken", domainregistry.Taken},
		{"reserved slug", domainregistry.BindingSubdomain, "admin", domainregistry.Invalid},
		{"malformed slug", domainregistry.BindingSubdomain, "-bad-", domainregistry.Invalid},
		{"free domain", domainregistry.BindingCustomDomain, "shop.example.com", domainregistry.Available},
		{"bare hostname", domainregistry.BindingCustomDomain, "localhost", domainregistry.Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.CheckAvailability(ctx, tt.bindingType, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("tombstoned value stays taken until released", func(t *testing.T) {
		_, err := r.Tombstone(ctx, "user:1", "taken")
		require.NoError(t, err)

		got, err := r.CheckAvailability(ctx, domainregistry.BindingSubdomain, "taken")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.Taken, got)

		require.NoError(t, r.Release(ctx, "user:1", "taken"))

		got, err = r.CheckAvailability(ctx, domainregistry.BindingSubdomain, "taken")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.Available, got)
	})
}

func TestRegistryVerificationTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("legal path", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)

		d, err := r.TransitionVerification(ctx, "sys", "shop.example.com",
			domainregistry.VerificationVerifying,
			domainregistry.WithChallengeToken("tok"),
		)
		require.NoError(t, err)
		assert.Equal(t, "tok", d.ChallengeToken)

		d, err = r.TransitionVerification(ctx, "sys", "shop.example.com", domainregistry.VerificationVerified)
		require.NoError(t, err)
		assert.Empty(t, d.ChallengeToken)
		assert.Empty(t, d.LastError)
	})

	t.Run("illegal predecessor leaves record unchanged", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)

		_, err = r.TransitionVerification(ctx, "sys", "shop.example.com", domainregistry.VerificationFailed)
		assert.ErrorIs(t, err, domainregistry.ErrInvalidStateTransition)

		d, err := r.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.VerificationPending, d.VerificationState)
	})
}

func TestRegistryCertificateTransitions(t *testing.T) {
	ctx := context.Background()
	expiry := time.Now().Add(90 * 24 * time.Hour)

	t.Run("active requires verified control", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)

		_, err = r.TransitionCertificate(ctx, "sys", "shop.example.com", domainregistry.CertificateIssuing)
		require.NoError(t, err)

		_, err = r.TransitionCertificate(ctx, "sys", "shop.example.com",
			domainregistry.CertificateActive,
			domainregistry.WithCertificateExpiry(expiry),
		)
		assert.ErrorIs(t, err, domainregistry.ErrInvalidStateTransition)
	})

	t.Run("full lifecycle", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)
		_, err = r.TransitionVerification(ctx, "sys", "shop.example.com", domainregistry.VerificationVerified)
		require.NoError(t, err)

		_, err = r.TransitionCertificate(ctx, "sys", "shop.example.com", domainregistry.CertificateIssuing)
		require.NoError(t, err)

		d, err := r.TransitionCertificate(ctx, "sys", "shop.example.com",
			domainregistry.CertificateActive,
			domainregistry.WithCertificateExpiry(expiry),
		)
		require.NoError(t, err)
		assert.True(t, expiry.Equal(d.CertificateExpiresAt))
		assert.True(t, d.Routable(time.Now()))

		_, err = r.TransitionCertificate(ctx, "sys", "shop.example.com", domainregistry.CertificateRenewing)
		require.NoError(t, err)

		// The previous certificate keeps serving while renewal runs.
		d, err = r.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.True(t, d.Routable(time.Now()))
	})

	t.Run("tombstoned record rejects transitions", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)
		_, err = r.Tombstone(ctx, "user:1", "shop.example.com")
		require.NoError(t, err)

		_, err = r.TransitionCertificate(ctx, "sys", "shop.example.com", domainregistry.CertificateIssuing)
		assert.ErrorIs(t, err, domainregistry.ErrTombstoned)
	})
}

func TestRegistryWorkContext(t *testing.T) {
	ctx := context.Background()

	t.Run("single flight per value", func(t *testing.T) {
		r := newRegistry(t)

		_, done, err := r.WorkContext(ctx, "shop.example.com")
		require.NoError(t, err)

		_, _, err = r.WorkContext(ctx, "shop.example.com")
		assert.ErrorIs(t, err, domainregistry.ErrAlreadyInProgress)

		// Other values are independent.
		_, otherDone, err := r.WorkContext(ctx, "other.example.com")
		require.NoError(t, err)
		otherDone()

		done()

		_, done, err = r.WorkContext(ctx, "shop.example.com")
		require.NoError(t, err)
		done()
	})

	t.Run("tombstone cancels in-flight work", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)

		workCtx, done, err := r.WorkContext(ctx, "shop.example.com")
		require.NoError(t, err)
		defer done()

		_, err = r.Tombstone(ctx, "user:1", "shop.example.com")
		require.NoError(t, err)

		select {
		case <-workCtx.Done():
		case <-time.After(time.Second):
			t.Fatal("work context was not cancelled by tombstone")
		}
	})

	t.Run("release refuses while work is unwinding", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)

		_, done, err := r.WorkContext(ctx, "shop.example.com")
		require.NoError(t, err)

		_, err = r.Tombstone(ctx, "user:1", "shop.example.com")
		require.NoError(t, err)

		err = r.Release(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, domainregistry.ErrOperationInFlight)

		done()

		require.NoError(t, r.Release(ctx, "user:1", "shop.example.com"))
	})

	t.Run("release requires tombstone", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
		require.NoError(t, err)

		err = r.Release(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, domainregistry.ErrNotTombstoned)
	})
}

func TestRegistryListActiveForTenant(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, bindingReq("acme", domainregistry.BindingSubdomain))
	require.NoError(t, err)
	_, err = r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
	require.NoError(t, err)

	other := bindingReq("other", domainregistry.BindingSubdomain)
	other.TenantID = "t2"
	_, err = r.Create(ctx, other)
	require.NoError(t, err)

	_, err = r.Tombstone(ctx, "user:1", "acme")
	require.NoError(t, err)

	domains, err := r.ListActiveForTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "shop.example.com", domains[0].Value)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAudit) Record(ctx context.Context, action, actor string, before, after any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, action)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func TestRegistryAuditTrail(t *testing.T) {
	audit := &recordingAudit{}
	r := newRegistry(t, domainregistry.WithAuditRecorder(audit))
	ctx := context.Background()

	_, err := r.Create(ctx, bindingReq("shop.example.com", domainregistry.BindingCustomDomain))
	require.NoError(t, err)
	_, err = r.TransitionVerification(ctx, "sys", "shop.example.com", domainregistry.VerificationVerified)
	require.NoError(t, err)
	_, err = r.Tombstone(ctx, "user:1", "shop.example.com")
	require.NoError(t, err)
	require.NoError(t, r.Release(ctx, "user:1", "shop.example.com"))

	assert.Equal(t, []string{
		domainregistry.ActionBind,
		domainregistry.ActionVerificationTransition,
		domainregistry.ActionTombstone,
		domainregistry.ActionRelease,
	}, audit.actions())
}

func TestRegistrySubscribe(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	var notified int
	r.Subscribe(func() { notified++ })

	_, err := r.Create(ctx, bindingReq("acme", domainregistry.BindingSubdomain))
	require.NoError(t, err)
	assert.Equal(t, 1, notified)

	_, err = r.Tombstone(ctx, "user:1", "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, notified)
}
