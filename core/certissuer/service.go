package certissuer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/domainkit/core/domainregistry"
	"github.com/dmitrymomot/domainkit/core/logger"
)

// Actor recorded on audit events for service-initiated transitions.
const systemActor = "certificate-issuer"

// Service orchestrates certificate acquisition for verified domains:
// automated issuance through the ACME provider, ingestion of manually
// supplied bundles, and the periodic renewal sweep. Obtained bundles
// are stored through an autocert.Cache keyed by binding value.
type Service struct {
	registry *domainregistry.Registry
	acme     ACMEProvider
	certs    autocert.Cache
	cfg      Config
	log      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithACMEProvider wires the automated issuance provider.
func WithACMEProvider(provider ACMEProvider) ServiceOption {
	return func(s *Service) {
		s.acme = provider
	}
}

// WithCertificateCache replaces the default directory cache.
func WithCertificateCache(cache autocert.Cache) ServiceOption {
	return func(s *Service) {
		if cache != nil {
			s.certs = cache
		}
	}
}

// WithConfig overrides retry and renewal settings.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger for internal operations.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a certificate service bound to the registry.
func NewService(registry *domainregistry.Registry, opts ...ServiceOption) (*Service, error) {
	if registry == nil {
		return nil, ErrRegistryNil
	}

	s := &Service{
		registry: registry,
		cfg:      DefaultConfig(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.certs == nil {
		s.certs = autocert.DirCache(s.cfg.CertDir)
	}

	return s, nil
}

// Issue runs automated issuance for a verified domain and transitions it
// to active. A second concurrent call for the same value fails fast with
// ErrAlreadyInProgress. Transient provider errors are retried with
// backoff up to the configured budget; exhaustion moves the domain to
// issuance_failed and the error is surfaced. Tombstoning the domain
// cancels the attempt at the next retry boundary without any transition.
func (s *Service) Issue(ctx context.Context, actor, value string) error {
	value = domainregistry.NormalizeValue(value)

	rec, err := s.registry.Get(ctx, value)
	if err != nil {
		return err
	}
	if err := s.checkIssuePreconditions(rec, domainregistry.ProviderACME); err != nil {
		return err
	}
	if s.acme == nil {
		return ErrACMENotConfigured
	}

	workCtx, done, err := s.registry.WorkContext(ctx, value)
	if err != nil {
		return err
	}
	defer done()

	if _, err := s.registry.TransitionCertificate(workCtx, actor, value, domainregistry.CertificateIssuing); err != nil {
		return err
	}

	return s.obtainAndActivate(ctx, workCtx, value, domainregistry.CertificateIssuanceFailed)
}

// IngestManual validates and installs a tenant-supplied certificate
// bundle. A bundle that does not cover the value, is expired, or whose
// key does not match fails with no state change. Re-uploading over an
// active certificate replaces it through the renewing state.
func (s *Service) IngestManual(ctx context.Context, actor, value string, certPEM, keyPEM []byte) error {
	value = domainregistry.NormalizeValue(value)

	rec, err := s.registry.Get(ctx, value)
	if err != nil {
		return err
	}
	if err := s.checkIssuePreconditions(rec, domainregistry.ProviderManual); err != nil {
		return err
	}

	expiresAt, err := ValidateBundle(value, certPEM, keyPEM)
	if err != nil {
		return err
	}

	workCtx, done, err := s.registry.WorkContext(ctx, value)
	if err != nil {
		return err
	}
	defer done()

	intermediate := domainregistry.CertificateIssuing
	if rec.CertificateState == domainregistry.CertificateActive {
		intermediate = domainregistry.CertificateRenewing
	}
	if _, err := s.registry.TransitionCertificate(workCtx, actor, value, intermediate); err != nil {
		return err
	}

	if err := s.storeBundle(workCtx, value, certPEM, keyPEM, nil); err != nil {
		return err
	}

	if _, err := s.registry.TransitionCertificate(workCtx, actor, value,
		domainregistry.CertificateActive,
		domainregistry.WithCertificateExpiry(expiresAt),
	); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "manual certificate ingested",
		logger.Domain(value),
		slog.Time("expires_at", expiresAt),
	)

	return nil
}

// RenewalOutcome reports the result of one domain in a renewal sweep.
type RenewalOutcome struct {
	Value   string
	Renewed bool
	Err     error
}

// RenewDueSoon selects active domains whose certificate expires within
// the renewal window and re-runs issuance for each independently; one
// domain's failure does not block others. Manually managed certificates
// inside the window are reported with ErrManualRenewalRequired. Active
// certificates already past expiry are transitioned to expired so they
// disappear from routing. Running the sweep twice in immediate
// succession issues at most one renewal per domain: in-flight attempts
// surface as ErrAlreadyInProgress and renewing records are not selected.
func (s *Service) RenewDueSoon(ctx context.Context) ([]RenewalOutcome, error) {
	now := time.Now()
	due, err := s.registry.ListExpiringBefore(ctx, now.Add(s.cfg.RenewalWindow))
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	outcomes := make([]RenewalOutcome, len(due))

	var g errgroup.Group
	g.SetLimit(s.renewConcurrency())
	for i, rec := range due {
		g.Go(func() error {
			outcomes[i] = s.renewOne(ctx, rec.Value, now)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, nil
}

func (s *Service) renewConcurrency() int {
	if s.cfg.RenewConcurrency > 0 {
		return s.cfg.RenewConcurrency
	}
	return 1
}

func (s *Service) renewOne(ctx context.Context, value string, now time.Time) RenewalOutcome {
	outcome := RenewalOutcome{Value: value}

	rec, err := s.registry.Get(ctx, value)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if rec.CertificateState != domainregistry.CertificateActive {
		// Raced with a concurrent sweep or a manual operation.
		return outcome
	}

	if rec.CertificateExpiresAt.Before(now) {
		if _, err := s.registry.TransitionCertificate(ctx, systemActor, value,
			domainregistry.CertificateExpired,
			domainregistry.WithLastError(ErrCertificateExpired),
		); err != nil {
			outcome.Err = err
			return outcome
		}
		outcome.Err = fmt.Errorf("%w: %s lapsed before renewal", ErrCertificateExpired, value)
		return outcome
	}

	if rec.CertificateProvider == domainregistry.ProviderManual {
		outcome.Err = fmt.Errorf("%w: %s expires %s",
			ErrManualRenewalRequired, value, rec.CertificateExpiresAt.Format(time.RFC3339))
		return outcome
	}

	if err := s.renew(ctx, value); err != nil {
		outcome.Err = err
		return outcome
	}

	outcome.Renewed = true
	return outcome
}

// renew re-runs issuance for an active domain. On failure the previous
// certificate stays active until it actually expires.
func (s *Service) renew(ctx context.Context, value string) error {
	if s.acme == nil {
		return ErrACMENotConfigured
	}

	workCtx, done, err := s.registry.WorkContext(ctx, value)
	if err != nil {
		return err
	}
	defer done()

	if _, err := s.registry.TransitionCertificate(workCtx, systemActor, value, domainregistry.CertificateRenewing); err != nil {
		return err
	}

	return s.obtainAndActivate(ctx, workCtx, value, domainregistry.CertificateActive)
}

// obtainAndActivate drives the retry loop and the terminal transition.
// failureState distinguishes first issuance (issuance_failed) from
// renewal (back to active with the previous certificate).
func (s *Service) obtainAndActivate(parent, workCtx context.Context, value string, failureState domainregistry.CertificateState) error {
	issued, err := s.obtainWithRetry(workCtx, value)
	if err != nil {
		return s.failIssuance(parent, workCtx, value, failureState, err)
	}

	if err := s.storeBundle(workCtx, value, issued.CertificatePEM, issued.PrivateKeyPEM, issued.IssuerPEM); err != nil {
		// A bundle that never landed must not strand the record in an
		// in-progress state.
		return s.failIssuance(parent, workCtx, value, failureState, err)
	}

	if _, err := s.registry.TransitionCertificate(workCtx, systemActor, value,
		domainregistry.CertificateActive,
		domainregistry.WithCertificateExpiry(issued.ExpiresAt),
	); err != nil {
		return s.failIssuance(parent, workCtx, value, failureState, err)
	}

	s.log.InfoContext(parent, "certificate issued",
		logger.Domain(value),
		slog.Time("expires_at", issued.ExpiresAt),
	)

	return nil
}

// failIssuance rolls the record to its failure state so a later Issue
// or renewal sweep can pick it up again.
func (s *Service) failIssuance(parent, workCtx context.Context, value string, failureState domainregistry.CertificateState, cause error) error {
	if workCtx.Err() != nil {
		// Cancelled by tombstone: unwind without transitioning, the
		// record stays tombstoned and never reaches active.
		return workCtx.Err()
	}

	failErr := fmt.Errorf("%w: %s: %v", ErrIssuanceFailed, value, cause)
	if _, terr := s.registry.TransitionCertificate(parent, systemActor, value,
		failureState,
		domainregistry.WithLastError(failErr),
	); terr != nil {
		return errors.Join(failErr, terr)
	}
	return failErr
}

func (s *Service) obtainWithRetry(ctx context.Context, value string) (*IssuedCertificate, error) {
	delay := s.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ObtainTimeout)
		issued, err := s.acme.Obtain(attemptCtx, value)
		cancel()

		if err == nil {
			return issued, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableError(err) {
			break
		}
		if attempt == s.cfg.MaxRetries {
			break
		}

		s.log.WarnContext(ctx, "issuance attempt failed, retrying",
			logger.Domain(value),
			logger.Attempt(attempt),
			logger.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

func (s *Service) checkIssuePreconditions(rec *domainregistry.CustomDomain, provider domainregistry.CertificateProvider) error {
	if rec.Tombstoned() {
		return fmt.Errorf("%w: %s", domainregistry.ErrTombstoned, rec.Value)
	}
	if rec.VerificationState != domainregistry.VerificationVerified {
		return fmt.Errorf("%w: %s is not verified", ErrPreconditionFailed, rec.Value)
	}
	if rec.CertificateProvider != provider {
		return fmt.Errorf("%w: %s uses the %s provider", ErrPreconditionFailed, rec.Value, rec.CertificateProvider)
	}
	return nil
}

// storeBundle writes key, certificate, and issuer chain as one PEM blob
// so tls.X509KeyPair can load it from a single cache entry.
func (s *Service) storeBundle(ctx context.Context, value string, certPEM, keyPEM, issuerPEM []byte) error {
	var blob []byte
	blob = append(blob, keyPEM...)
	if len(blob) > 0 && blob[len(blob)-1] != '\n' {
		blob = append(blob, '\n')
	}
	blob = append(blob, certPEM...)
	if len(issuerPEM) > 0 {
		if len(blob) > 0 && blob[len(blob)-1] != '\n' {
			blob = append(blob, '\n')
		}
		blob = append(blob, issuerPEM...)
	}

	if err := s.certs.Put(ctx, value, blob); err != nil {
		return fmt.Errorf("store certificate for %s: %w", value, err)
	}
	return nil
}

// CertificatePEM returns the stored bundle for a domain.
func (s *Service) CertificatePEM(ctx context.Context, value string) ([]byte, error) {
	blob, err := s.certs.Get(ctx, domainregistry.NormalizeValue(value))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, value)
	}
	return blob, nil
}

// GetCertificate retrieves a certificate for a TLS handshake. It only
// serves domains the registry currently routes, so stale or invalid
// material never reaches a handshake. Intended for tls.Config.
func (s *Service) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	domain := domainregistry.NormalizeValue(hello.ServerName)
	if domain == "" {
		return nil, errors.New("no server name provided")
	}

	ctx := context.Background()

	rec, err := s.registry.Get(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, domain)
	}
	if !rec.Routable(time.Now()) {
		return nil, fmt.Errorf("%w: %s is not active", ErrCertificateNotFound, domain)
	}

	blob, err := s.certs.Get(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, domain)
	}

	cert, err := tls.X509KeyPair(blob, blob)
	if err != nil {
		return nil, fmt.Errorf("load certificate for %s: %w", domain, err)
	}

	return &cert, nil
}

// isRetryableError classifies transient provider failures: network
// errors, rate limits, and service unavailability.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no such host",
		"timeout",
		"rate limit",
		"429",
		"503",
		"temporary failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
