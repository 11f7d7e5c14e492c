package certissuer_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/acme/autocert"

	"github.com/dmitrymomot/domainkit/core/certissuer"
	"github.com/dmitrymomot/domainkit/core/domainregistry"
)

type acmeMock struct {
	calls  atomic.Int32
	obtain func(ctx context.Context, domain string, attempt int32) (*certissuer.IssuedCertificate, error)
}

func (m *acmeMock) Obtain(ctx context.Context, domain string) (*certissuer.IssuedCertificate, error) {
	n := m.calls.Add(1)
	return m.obtain(ctx, domain, n)
}

type memCache struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	putErr error
}

func newMemCache() *memCache {
	return &memCache{blobs: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blob, ok := c.blobs[key]
	if !ok {
		return nil, autocert.ErrCacheMiss
	}
	return blob, nil
}

func (c *memCache) Put(ctx context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.blobs[key] = data
	return nil
}

func (c *memCache) failPuts(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putErr = err
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blobs, key)
	return nil
}

// selfSignedCert returns a certificate and key in PEM form covering host.
func selfSignedCert(t *testing.T, host string, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func issuedFor(t *testing.T, host string, notAfter time.Time) *certissuer.IssuedCertificate {
	t.Helper()
	certPEM, keyPEM := selfSignedCert(t, host, notAfter)
	return &certissuer.IssuedCertificate{
		CertificatePEM: certPEM,
		PrivateKeyPEM:  keyPEM,
		ExpiresAt:      notAfter,
	}
}

func testServiceConfig() certissuer.Config {
	cfg := certissuer.DefaultConfig()
	cfg.MaxRetries = 3
	cfg.RetryBackoff = time.Millisecond
	cfg.ObtainTimeout = time.Second
	return cfg
}

func newService(t *testing.T, provider certissuer.ACMEProvider) (*domainregistry.Registry, *certissuer.Service, *memCache) {
	t.Helper()

	registry, err := domainregistry.New(domainregistry.NewMemoryStore())
	require.NoError(t, err)

	cache := newMemCache()
	opts := []certissuer.ServiceOption{
		certissuer.WithCertificateCache(cache),
		certissuer.WithConfig(testServiceConfig()),
	}
	if provider != nil {
		opts = append(opts, certissuer.WithACMEProvider(provider))
	}

	svc, err := certissuer.NewService(registry, opts...)
	require.NoError(t, err)

	return registry, svc, cache
}

func createVerified(t *testing.T, registry *domainregistry.Registry, value string, provider domainregistry.CertificateProvider) {
	t.Helper()
	ctx := context.Background()
	_, err := registry.Create(ctx, domainregistry.BindingRequest{
		TenantID:            "t1",
		BindingType:         domainregistry.BindingCustomDomain,
		Value:               value,
		CertificateProvider: provider,
		Actor:               "user:1",
	})
	require.NoError(t, err)
	_, err = registry.TransitionVerification(ctx, "sys", value, domainregistry.VerificationVerified)
	require.NoError(t, err)
}

func TestNewService(t *testing.T) {
	_, err := certissuer.NewService(nil)
	assert.ErrorIs(t, err, certissuer.ErrRegistryNil)
}

func TestServiceIssue(t *testing.T) {
	ctx := context.Background()
	expiry := time.Now().Add(90 * 24 * time.Hour)

	t.Run("issues and activates", func(t *testing.T) {
		provider := &acmeMock{obtain: func(_ context.Context, domain string, _ int32) (*certissuer.IssuedCertificate, error) {
			return issuedFor(t, domain, expiry), nil
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		require.NoError(t, svc.Issue(ctx, "user:1", "shop.example.com"))

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
		assert.True(t, expiry.Equal(rec.CertificateExpiresAt))

		cert, err := svc.GetCertificate(&tls.ClientHelloInfo{ServerName: "shop.example.com"})
		require.NoError(t, err)
		assert.NotNil(t, cert)
	})

	t.Run("requires verified domain", func(t *testing.T) {
		registry, svc, _ := newService(t, &acmeMock{})
		_, err := registry.Create(ctx, domainregistry.BindingRequest{
			TenantID:            "t1",
			BindingType:         domainregistry.BindingCustomDomain,
			Value:               "shop.example.com",
			CertificateProvider: domainregistry.ProviderACME,
			Actor:               "user:1",
		})
		require.NoError(t, err)

		err = svc.Issue(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, certissuer.ErrPreconditionFailed)
	})

	t.Run("refuses manual provider domains", func(t *testing.T) {
		registry, svc, _ := newService(t, &acmeMock{})
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

		err := svc.Issue(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, certissuer.ErrPreconditionFailed)
	})

	t.Run("requires a configured provider", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		err := svc.Issue(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, certissuer.ErrACMENotConfigured)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		provider := &acmeMock{obtain: func(_ context.Context, domain string, attempt int32) (*certissuer.IssuedCertificate, error) {
			if attempt < 3 {
				return nil, errors.New("acme: 503 service unavailable")
			}
			return issuedFor(t, domain, expiry), nil
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		require.NoError(t, svc.Issue(ctx, "user:1", "shop.example.com"))
		assert.Equal(t, int32(3), provider.calls.Load())

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
	})

	t.Run("permanent error fails without retry", func(t *testing.T) {
		provider := &acmeMock{obtain: func(context.Context, string, int32) (*certissuer.IssuedCertificate, error) {
			return nil, errors.New("acme: account is not authorized")
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		err := svc.Issue(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, certissuer.ErrIssuanceFailed)
		assert.Equal(t, int32(1), provider.calls.Load())

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateIssuanceFailed, rec.CertificateState)
		assert.NotEmpty(t, rec.LastError)
	})

	t.Run("retry exhaustion records failure reason", func(t *testing.T) {
		provider := &acmeMock{obtain: func(context.Context, string, int32) (*certissuer.IssuedCertificate, error) {
			return nil, errors.New("acme: rate limit exceeded")
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		err := svc.Issue(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, certissuer.ErrIssuanceFailed)
		assert.Equal(t, int32(testServiceConfig().MaxRetries), provider.calls.Load())

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateIssuanceFailed, rec.CertificateState)
		assert.Contains(t, rec.LastError, "rate limit")
	})

	t.Run("failed store leaves the record retryable", func(t *testing.T) {
		provider := &acmeMock{obtain: func(_ context.Context, domain string, _ int32) (*certissuer.IssuedCertificate, error) {
			return issuedFor(t, domain, expiry), nil
		}}
		registry, svc, cache := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		cache.failPuts(errors.New("cache: disk full"))
		err := svc.Issue(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, certissuer.ErrIssuanceFailed)

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateIssuanceFailed, rec.CertificateState)
		assert.Contains(t, rec.LastError, "disk full")

		// Once the cache recovers, a fresh Issue must go through.
		cache.failPuts(nil)
		require.NoError(t, svc.Issue(ctx, "user:1", "shop.example.com"))

		rec, err = registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
	})

	t.Run("concurrent issue fails fast", func(t *testing.T) {
		release := make(chan struct{})
		provider := &acmeMock{obtain: func(ctx context.Context, domain string, _ int32) (*certissuer.IssuedCertificate, error) {
			select {
			case <-release:
				return issuedFor(t, domain, expiry), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		firstDone := make(chan error, 1)
		go func() { firstDone <- svc.Issue(ctx, "user:1", "shop.example.com") }()

		require.Eventually(t, func() bool {
			return provider.calls.Load() > 0
		}, time.Second, 5*time.Millisecond)

		err := svc.Issue(ctx, "user:1", "shop.example.com")
		assert.ErrorIs(t, err, domainregistry.ErrAlreadyInProgress)

		close(release)
		require.NoError(t, <-firstDone)

		_, err = registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
	})

	t.Run("tombstone cancels issuance before activation", func(t *testing.T) {
		started := make(chan struct{})
		var once sync.Once
		provider := &acmeMock{obtain: func(ctx context.Context, _ string, _ int32) (*certissuer.IssuedCertificate, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		issueDone := make(chan error, 1)
		go func() { issueDone <- svc.Issue(ctx, "user:1", "shop.example.com") }()

		<-started
		_, err := registry.Tombstone(ctx, "user:1", "shop.example.com")
		require.NoError(t, err)

		select {
		case err := <-issueDone:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("issuance did not unwind after tombstone")
		}

		// No terminal transition happened: the record stays mid-issuance
		// and tombstoned, so it can never reach active.
		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.True(t, rec.Tombstoned())
		assert.Equal(t, domainregistry.CertificateIssuing, rec.CertificateState)
	})
}

func TestServiceIngestManual(t *testing.T) {
	ctx := context.Background()
	expiry := time.Now().Add(365 * 24 * time.Hour).Truncate(time.Second)

	t.Run("installs a valid bundle", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

		certPEM, keyPEM := selfSignedCert(t, "shop.example.com", expiry)
		require.NoError(t, svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM))

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
		assert.WithinDuration(t, expiry, rec.CertificateExpiresAt, time.Second)

		cert, err := svc.GetCertificate(&tls.ClientHelloInfo{ServerName: "shop.example.com"})
		require.NoError(t, err)
		assert.NotNil(t, cert)
	})

	t.Run("rejects bundle for a different host without state change", func(t *testing.T) {
		registry, svc, cache := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

		certPEM, keyPEM := selfSignedCert(t, "other.example.com", expiry)
		err := svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM)
		assert.ErrorIs(t, err, certissuer.ErrCertificateMismatch)

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateNone, rec.CertificateState)

		_, err = cache.Get(ctx, "shop.example.com")
		assert.ErrorIs(t, err, autocert.ErrCacheMiss)
	})

	t.Run("rejects corrupted bundle", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

		certPEM, keyPEM := selfSignedCert(t, "shop.example.com", expiry)
		certPEM[len(certPEM)/2] ^= 0xff

		err := svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM)
		assert.ErrorIs(t, err, certissuer.ErrCertificateMismatch)

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateNone, rec.CertificateState)
	})

	t.Run("rejects expired bundle", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

		certPEM, keyPEM := selfSignedCert(t, "shop.example.com", time.Now().Add(-time.Hour))
		err := svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM)
		assert.ErrorIs(t, err, certissuer.ErrCertificateExpired)
	})

	t.Run("mismatched key is rejected", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

		certPEM, _ := selfSignedCert(t, "shop.example.com", expiry)
		_, otherKey := selfSignedCert(t, "shop.example.com", expiry)

		err := svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, otherKey)
		assert.ErrorIs(t, err, certissuer.ErrCertificateMismatch)
	})

	t.Run("re-upload replaces an active certificate", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

		certPEM, keyPEM := selfSignedCert(t, "shop.example.com", expiry)
		require.NoError(t, svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM))

		later := expiry.Add(30 * 24 * time.Hour)
		certPEM, keyPEM = selfSignedCert(t, "shop.example.com", later)
		require.NoError(t, svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM))

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
		assert.WithinDuration(t, later, rec.CertificateExpiresAt, time.Second)
	})

	t.Run("refuses ACME provider domains", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)

		certPEM, keyPEM := selfSignedCert(t, "shop.example.com", expiry)
		err := svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM)
		assert.ErrorIs(t, err, certissuer.ErrPreconditionFailed)
	})
}

func TestServiceRenewDueSoon(t *testing.T) {
	ctx := context.Background()

	activate := func(t *testing.T, registry *domainregistry.Registry, value string, expiry time.Time) {
		t.Helper()
		_, err := registry.TransitionCertificate(ctx, "sys", value, domainregistry.CertificateIssuing)
		require.NoError(t, err)
		_, err = registry.TransitionCertificate(ctx, "sys", value,
			domainregistry.CertificateActive,
			domainregistry.WithCertificateExpiry(expiry),
		)
		require.NoError(t, err)
	}

	t.Run("renews certificates inside the window", func(t *testing.T) {
		newExpiry := time.Now().Add(90 * 24 * time.Hour)
		provider := &acmeMock{obtain: func(_ context.Context, domain string, _ int32) (*certissuer.IssuedCertificate, error) {
			return issuedFor(t, domain, newExpiry), nil
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)
		activate(t, registry, "shop.example.com", time.Now().Add(10*24*time.Hour))

		outcomes, err := svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.True(t, outcomes[0].Renewed)
		require.NoError(t, outcomes[0].Err)

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
		assert.True(t, newExpiry.Equal(rec.CertificateExpiresAt))

		// The fresh expiry is outside the window: a second sweep is a no-op.
		outcomes, err = svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		assert.Empty(t, outcomes)
		assert.Equal(t, int32(1), provider.calls.Load())
	})

	t.Run("failed store keeps the certificate serving", func(t *testing.T) {
		newExpiry := time.Now().Add(90 * 24 * time.Hour)
		provider := &acmeMock{obtain: func(_ context.Context, domain string, _ int32) (*certissuer.IssuedCertificate, error) {
			return issuedFor(t, domain, newExpiry), nil
		}}
		registry, svc, cache := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)
		oldExpiry := time.Now().Add(10 * 24 * time.Hour)
		activate(t, registry, "shop.example.com", oldExpiry)

		cache.failPuts(errors.New("cache: disk full"))
		outcomes, err := svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.ErrorIs(t, outcomes[0].Err, certissuer.ErrIssuanceFailed)

		// The old certificate stays active with its original expiry so
		// the domain keeps serving until a later sweep succeeds.
		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
		assert.True(t, oldExpiry.Equal(rec.CertificateExpiresAt))
		assert.Contains(t, rec.LastError, "disk full")

		cache.failPuts(nil)
		outcomes, err = svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.True(t, outcomes[0].Renewed)
		require.NoError(t, outcomes[0].Err)

		rec, err = registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.True(t, newExpiry.Equal(rec.CertificateExpiresAt))
	})

	t.Run("skips certificates outside the window", func(t *testing.T) {
		provider := &acmeMock{obtain: func(context.Context, string, int32) (*certissuer.IssuedCertificate, error) {
			t.Fatal("provider must not be called")
			return nil, nil
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)
		activate(t, registry, "shop.example.com", time.Now().Add(60*24*time.Hour))

		outcomes, err := svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		assert.Empty(t, outcomes)
	})

	t.Run("manual certificates report renewal required", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)
		activate(t, registry, "shop.example.com", time.Now().Add(10*24*time.Hour))

		outcomes, err := svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.False(t, outcomes[0].Renewed)
		assert.ErrorIs(t, outcomes[0].Err, certissuer.ErrManualRenewalRequired)

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, rec.CertificateState)
	})

	t.Run("lapsed certificates are expired out of routing", func(t *testing.T) {
		registry, svc, _ := newService(t, nil)
		createVerified(t, registry, "shop.example.com", domainregistry.ProviderACME)
		activate(t, registry, "shop.example.com", time.Now().Add(-time.Hour))

		outcomes, err := svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.ErrorIs(t, outcomes[0].Err, certissuer.ErrCertificateExpired)

		rec, err := registry.Get(ctx, "shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateExpired, rec.CertificateState)
		assert.False(t, rec.Routable(time.Now()))
	})

	t.Run("one failure does not block other renewals", func(t *testing.T) {
		newExpiry := time.Now().Add(90 * 24 * time.Hour)
		provider := &acmeMock{obtain: func(_ context.Context, domain string, _ int32) (*certissuer.IssuedCertificate, error) {
			if domain == "bad.example.com" {
				return nil, errors.New("acme: account is not authorized")
			}
			return issuedFor(t, domain, newExpiry), nil
		}}
		registry, svc, _ := newService(t, provider)
		createVerified(t, registry, "good.example.com", domainregistry.ProviderACME)
		activate(t, registry, "good.example.com", time.Now().Add(5*24*time.Hour))
		createVerified(t, registry, "bad.example.com", domainregistry.ProviderACME)
		activate(t, registry, "bad.example.com", time.Now().Add(5*24*time.Hour))

		outcomes, err := svc.RenewDueSoon(ctx)
		require.NoError(t, err)
		require.Len(t, outcomes, 2)

		byValue := map[string]certissuer.RenewalOutcome{}
		for _, o := range outcomes {
			byValue[o.Value] = o
		}
		assert.True(t, byValue["good.example.com"].Renewed)
		assert.ErrorIs(t, byValue["bad.example.com"].Err, certissuer.ErrIssuanceFailed)

		good, err := registry.Get(ctx, "good.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, good.CertificateState)

		// The failed renewal keeps the previous certificate active.
		bad, err := registry.Get(ctx, "bad.example.com")
		require.NoError(t, err)
		assert.Equal(t, domainregistry.CertificateActive, bad.CertificateState)
		assert.NotEmpty(t, bad.LastError)
	})
}

func TestValidateBundle(t *testing.T) {
	expiry := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	certPEM, keyPEM := selfSignedCert(t, "shop.example.com", expiry)

	got, err := certissuer.ValidateBundle("shop.example.com", certPEM, keyPEM)
	require.NoError(t, err)
	assert.WithinDuration(t, expiry, got, time.Second)

	_, err = certissuer.ValidateBundle("other.example.com", certPEM, keyPEM)
	assert.ErrorIs(t, err, certissuer.ErrCertificateMismatch)
}

func TestCertificatePEM(t *testing.T) {
	ctx := context.Background()
	registry, svc, cache := newService(t, nil)
	createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

	_, err := svc.CertificatePEM(ctx, "shop.example.com")
	assert.ErrorIs(t, err, certissuer.ErrCertificateNotFound)

	require.NoError(t, cache.Put(ctx, "shop.example.com", []byte("pem blob")))

	blob, err := svc.CertificatePEM(ctx, "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("pem blob"), blob)
}

func TestGetCertificateRefusesUnroutable(t *testing.T) {
	ctx := context.Background()
	registry, svc, _ := newService(t, nil)
	createVerified(t, registry, "shop.example.com", domainregistry.ProviderManual)

	certPEM, keyPEM := selfSignedCert(t, "shop.example.com", time.Now().Add(24*time.Hour))
	require.NoError(t, svc.IngestManual(ctx, "user:1", "shop.example.com", certPEM, keyPEM))

	// Tombstoned domains stop being served even with a cached certificate.
	_, err := registry.Tombstone(ctx, "user:1", "shop.example.com")
	require.NoError(t, err)

	_, err = svc.GetCertificate(&tls.ClientHelloInfo{ServerName: "shop.example.com"})
	assert.ErrorIs(t, err, certissuer.ErrCertificateNotFound)
}
