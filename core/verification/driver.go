package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/dmitrymomot/domainkit/core/domainregistry"
	"github.com/dmitrymomot/domainkit/core/logger"
)

// Actor recorded on audit events for driver-initiated transitions.
const systemActor = "verification-driver"

// Status is the outcome of a verification poll.
type Status string

const (
	StatusVerified Status = "verified"
	StatusPending  Status = "pending"
	StatusFailed   Status = "failed"
)

// Driver proves domain control before any certificate is issued. A
// tenant publishes the challenge token either as a DNS TXT record or at
// a well-known HTTP path; either proof suffices.
type Driver struct {
	registry *domainregistry.Registry
	probes   []Probe
	cfg      Config
	log      *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the logger for internal operations.
func WithLogger(log *slog.Logger) DriverOption {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// WithProbes replaces the default DNS+HTTP probe set.
func WithProbes(probes ...Probe) DriverOption {
	return func(d *Driver) {
		d.probes = probes
	}
}

// WithConfig overrides the polling schedule and probe timeouts.
func WithConfig(cfg Config) DriverOption {
	return func(d *Driver) {
		d.cfg = cfg
	}
}

// NewDriver creates a verification driver against the registry. By
// default it probes DNS TXT records first, then the HTTP well-known path.
func NewDriver(registry *domainregistry.Registry, opts ...DriverOption) (*Driver, error) {
	if registry == nil {
		return nil, ErrRegistryNil
	}

	d := &Driver{
		registry: registry,
		cfg:      DefaultConfig(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(d)
	}

	if len(d.probes) == 0 {
		d.probes = []Probe{
			NewDNSProbe(d.cfg.Resolvers, d.cfg.ProbeTimeout),
			NewHTTPProbe(d.cfg.ProbeTimeout),
		}
	}

	return d, nil
}

// Start begins verification for a domain and returns the challenge
// token the tenant must publish. It is idempotent: while verification
// is unresolved, repeated calls return the same token instead of
// minting a new one, so concurrent retries do not invalidate an
// in-progress proof. Path-slug bindings have no external domain to
// prove and move straight to verified with an empty token.
func (d *Driver) Start(ctx context.Context, actor, value string) (string, error) {
	rec, err := d.registry.Get(ctx, value)
	if err != nil {
		return "", err
	}
	if rec.Tombstoned() {
		return "", fmt.Errorf("%w: %s", domainregistry.ErrTombstoned, value)
	}

	switch rec.VerificationState {
	case domainregistry.VerificationVerified:
		return "", ErrAlreadyVerified

	case domainregistry.VerificationFailed:
		return "", fmt.Errorf("%w: restart verification explicitly", ErrVerificationFailed)

	case domainregistry.VerificationVerifying:
		return rec.ChallengeToken, nil
	}

	if rec.BindingType == domainregistry.BindingPathSlug {
		if _, err := d.registry.TransitionVerification(ctx, actor, value, domainregistry.VerificationVerified); err != nil {
			return "", err
		}
		return "", nil
	}

	token := uuid.NewString()
	if _, err := d.registry.TransitionVerification(ctx, actor, value,
		domainregistry.VerificationVerifying,
		domainregistry.WithChallengeToken(token),
	); err != nil {
		if errors.Is(err, domainregistry.ErrInvalidStateTransition) {
			// A concurrent Start won the transition; hand back its token
			// so both callers publish the same challenge.
			current, gerr := d.registry.Get(ctx, value)
			if gerr == nil && current.VerificationState == domainregistry.VerificationVerifying {
				return current.ChallengeToken, nil
			}
		}
		return "", err
	}

	d.log.InfoContext(ctx, "verification started",
		logger.Domain(value),
		logger.Binding(string(rec.BindingType)),
	)

	return token, nil
}

// Poll runs the probes once and reports the current verification
// status. A confirmed proof transitions the record to verified. Probe
// errors are transient: the status stays pending and the bounded retry
// loop in Run decides when to give up.
func (d *Driver) Poll(ctx context.Context, value string) (Status, error) {
	rec, err := d.registry.Get(ctx, value)
	if err != nil {
		return "", err
	}

	switch rec.VerificationState {
	case domainregistry.VerificationVerified:
		return StatusVerified, nil
	case domainregistry.VerificationFailed:
		return StatusFailed, nil
	case domainregistry.VerificationPending:
		return StatusPending, nil
	}

	for _, probe := range d.probes {
		probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		ok, err := probe.Probe(probeCtx, rec.Value, rec.ChallengeToken)
		cancel()

		if err != nil {
			d.log.DebugContext(ctx, "challenge probe failed",
				logger.Domain(value),
				logger.Error(err),
			)
			continue
		}
		if ok {
			if _, err := d.registry.TransitionVerification(ctx, systemActor, value, domainregistry.VerificationVerified); err != nil {
				return "", err
			}
			return StatusVerified, nil
		}
	}

	return StatusPending, nil
}

// Run polls until the proof is confirmed, applying exponential backoff
// between attempts, and transitions the record to failed once the
// bounded attempt count is exhausted. Tombstoning the domain cancels
// the loop at the next poll boundary without any transition.
func (d *Driver) Run(ctx context.Context, value string) error {
	runCtx, done, err := d.registry.WorkContext(ctx, value)
	if err != nil {
		return err
	}
	defer done()

	schedule := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.cfg.InitialInterval),
		backoff.WithMaxInterval(d.cfg.MaxInterval),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := runCtx.Err(); err != nil {
			return err
		}

		status, err := d.Poll(runCtx, value)
		if err != nil {
			return err
		}

		switch status {
		case StatusVerified:
			return nil
		case StatusFailed:
			return ErrVerificationFailed
		}

		if attempt == d.cfg.MaxAttempts {
			break
		}

		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-time.After(schedule.NextBackOff()):
		}
	}

	lastErr := fmt.Errorf("%w: challenge not confirmed after %d attempts", ErrVerificationFailed, d.cfg.MaxAttempts)
	if _, err := d.registry.TransitionVerification(runCtx, systemActor, value,
		domainregistry.VerificationFailed,
		domainregistry.WithLastError(lastErr),
	); err != nil {
		return err
	}

	d.log.WarnContext(ctx, "verification exhausted",
		logger.Domain(value),
		logger.Attempt(d.cfg.MaxAttempts),
	)

	return lastErr
}

// Restart begins a fresh verification for a failed domain with a newly
// minted challenge token. Failed is terminal until the tenant calls this.
func (d *Driver) Restart(ctx context.Context, actor, value string) (string, error) {
	rec, err := d.registry.Get(ctx, value)
	if err != nil {
		return "", err
	}
	if rec.VerificationState != domainregistry.VerificationFailed {
		return "", fmt.Errorf("%w: verification %s -> %s for %s",
			domainregistry.ErrInvalidStateTransition,
			rec.VerificationState, domainregistry.VerificationVerifying, value)
	}

	token := uuid.NewString()
	if _, err := d.registry.TransitionVerification(ctx, actor, value,
		domainregistry.VerificationVerifying,
		domainregistry.WithChallengeToken(token),
	); err != nil {
		return "", err
	}

	return token, nil
}
