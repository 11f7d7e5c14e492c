package renewal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/domainkit/core/certissuer"
	"github.com/dmitrymomot/domainkit/core/domainregistry"
	"github.com/dmitrymomot/domainkit/core/logger"
)

var (
	// ErrRenewerNil is returned when constructing a scheduler without a renewer.
	ErrRenewerNil = errors.New("renewer cannot be nil")

	// ErrAlreadyRunning is returned when starting a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNotRunning is returned when stopping a stopped scheduler.
	ErrNotRunning = errors.New("scheduler not running")

	// ErrShutdownTimeout is returned when a sweep does not finish within
	// the shutdown grace period.
	ErrShutdownTimeout = errors.New("scheduler shutdown timed out")
)

// CertificateRenewer runs one renewal sweep.
type CertificateRenewer interface {
	RenewDueSoon(ctx context.Context) ([]certissuer.RenewalOutcome, error)
}

// VerificationRunner re-drives the bounded polling loop for one domain.
type VerificationRunner interface {
	Run(ctx context.Context, value string) error
}

// RegistryReader lists records for the verification re-drive.
type RegistryReader interface {
	Snapshot(ctx context.Context) ([]*domainregistry.CustomDomain, error)
}

// Config holds scheduler settings. Designed for environment-based
// configuration using popular env parsing libraries.
type Config struct {
	SweepInterval   time.Duration `env:"RENEWAL_SWEEP_INTERVAL" envDefault:"12h"`
	ShutdownTimeout time.Duration `env:"RENEWAL_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   12 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Scheduler periodically invokes the certificate renewal sweep and
// re-drives unresolved verifications. It is the only component that
// calls the issuer on a timer; per-domain single-flight guards make
// overlapping sweeps harmless.
type Scheduler struct {
	renewer  CertificateRenewer
	verifier VerificationRunner
	registry RegistryReader
	cfg      Config
	log      *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	sweepsRun       atomic.Int64
	renewalsIssued  atomic.Int64
	renewalFailures atomic.Int64
}

// Stats provides observability metrics for monitoring and debugging.
type Stats struct {
	SweepsRun       int64
	RenewalsIssued  int64
	RenewalFailures int64
	IsRunning       bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger for internal operations.
func WithLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithConfig overrides the sweep interval and shutdown timeout.
func WithConfig(cfg Config) SchedulerOption {
	return func(s *Scheduler) {
		if cfg.SweepInterval > 0 {
			s.cfg.SweepInterval = cfg.SweepInterval
		}
		if cfg.ShutdownTimeout > 0 {
			s.cfg.ShutdownTimeout = cfg.ShutdownTimeout
		}
	}
}

// WithVerificationRunner enables re-driving unresolved verifications on
// each sweep. Requires a registry reader to find them.
func WithVerificationRunner(verifier VerificationRunner, registry RegistryReader) SchedulerOption {
	return func(s *Scheduler) {
		s.verifier = verifier
		s.registry = registry
	}
}

// NewScheduler creates a renewal scheduler.
func NewScheduler(renewer CertificateRenewer, opts ...SchedulerOption) (*Scheduler, error) {
	if renewer == nil {
		return nil, ErrRenewerNil
	}

	s := &Scheduler{
		renewer: renewer,
		cfg:     DefaultConfig(),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		s.sweep(s.ctx)

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.sweep(s.ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish,
// bounded by the shutdown timeout.
func (s *Scheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// Stats returns a point-in-time snapshot of scheduler metrics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		SweepsRun:       s.sweepsRun.Load(),
		RenewalsIssued:  s.renewalsIssued.Load(),
		RenewalFailures: s.renewalFailures.Load(),
		IsRunning:       s.running.Load(),
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()
	s.sweepsRun.Add(1)

	outcomes, err := s.renewer.RenewDueSoon(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "renewal sweep failed", logger.Error(err))
	}

	for _, outcome := range outcomes {
		switch {
		case outcome.Renewed:
			s.renewalsIssued.Add(1)
		case outcome.Err != nil:
			s.renewalFailures.Add(1)
			s.log.WarnContext(ctx, "renewal failed",
				logger.Domain(outcome.Value),
				logger.Error(outcome.Err),
			)
		}
	}

	s.redriveVerifications(ctx)

	s.log.InfoContext(ctx, "renewal sweep finished",
		logger.Count("due", len(outcomes)),
		logger.Elapsed(start),
	)
}

// redriveVerifications restarts the polling loop for domains stuck in
// the verifying state, e.g. after a process restart. Single-flight
// guards make this safe to call for domains already being polled.
func (s *Scheduler) redriveVerifications(ctx context.Context) {
	if s.verifier == nil || s.registry == nil {
		return
	}

	records, err := s.registry.Snapshot(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "verification re-drive listing failed", logger.Error(err))
		return
	}

	for _, rec := range records {
		if rec.Tombstoned() || rec.VerificationState != domainregistry.VerificationVerifying {
			continue
		}

		value := rec.Value
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.verifier.Run(ctx, value); err != nil &&
				!errors.Is(err, domainregistry.ErrAlreadyInProgress) &&
				!errors.Is(err, context.Canceled) {
				s.log.WarnContext(ctx, "verification re-drive failed",
					logger.Domain(value),
					logger.Error(err),
				)
			}
		}()
	}
}
