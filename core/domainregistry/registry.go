package domainregistry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/domainkit/core/logger"
)

// AuditRecorder receives one before/after snapshot per state-changing
// operation. Implementations must not drop events; the registry calls
// Record synchronously with the mutation.
type AuditRecorder interface {
	Record(ctx context.Context, action, actor string, before, after any) error
}

// Audit action names emitted by the registry.
const (
	ActionBind                   = "domain.bind"
	ActionVerificationTransition = "domain.verification"
	ActionCertificateTransition  = "domain.certificate"
	ActionTombstone              = "domain.tombstone"
	ActionRelease                = "domain.release"
)

// legal predecessor states per target state.
var (
	verificationTransitions = map[VerificationState][]VerificationState{
		VerificationVerifying: {VerificationPending, VerificationFailed},
		VerificationVerified:  {VerificationPending, VerificationVerifying},
		VerificationFailed:    {VerificationVerifying},
	}

	certificateTransitions = map[CertificateState][]CertificateState{
		CertificateIssuing:        {CertificateNone, CertificateIssuanceFailed, CertificateExpired},
		CertificateActive:         {CertificateIssuing, CertificateRenewing},
		CertificateRenewing:       {CertificateActive},
		CertificateExpired:        {CertificateActive, CertificateRenewing},
		CertificateIssuanceFailed: {CertificateIssuing},
	}
)

// Registry is the source of truth for domain-to-tenant bindings. All
// mutations are serialized per value, emit exactly one audit event, and
// notify change listeners so resolver snapshots can be invalidated.
type Registry struct {
	store  Store
	audit  AuditRecorder
	logger *slog.Logger
	locks  *keyedMutex

	mu        sync.Mutex
	inflight  map[string]context.CancelFunc
	listeners []func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithAuditRecorder sets the audit collaborator. Without it the registry
// logs transitions but emits no audit events.
func WithAuditRecorder(audit AuditRecorder) Option {
	return func(r *Registry) {
		r.audit = audit
	}
}

// WithLogger sets the logger for internal operations.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.logger = log
		}
	}
}

// New creates a Registry backed by the given store.
func New(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	r := &Registry{
		store:    store,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		locks:    newKeyedMutex(),
		inflight: make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// BindingRequest is an inbound request to bind a value to a tenant.
type BindingRequest struct {
	TenantID            string
	BindingType         BindingType
	Value               string
	CertificateProvider CertificateProvider
	Actor               string
}

// Create validates the request and inserts a new pending record. The
// uniqueness check and the insert are one atomic store operation, so two
// concurrent requests for the same value cannot both succeed. Path slugs
// need no external proof of control and start out verified.
func (r *Registry) Create(ctx context.Context, req BindingRequest) (*CustomDomain, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidBinding)
	}
	switch req.CertificateProvider {
	case ProviderACME, ProviderManual:
	default:
		return nil, fmt.Errorf("%w: unknown certificate provider %q", ErrInvalidBinding, req.CertificateProvider)
	}

	value := NormalizeValue(req.Value)
	if err := ValidateValue(req.BindingType, value); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(value)
	defer unlock()

	now := time.Now().UTC()
	domain := &CustomDomain{
		ID:                  uuid.NewString(),
		TenantID:            req.TenantID,
		BindingType:         req.BindingType,
		Value:               value,
		VerificationState:   VerificationPending,
		CertificateState:    CertificateNone,
		CertificateProvider: req.CertificateProvider,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.BindingType == BindingPathSlug {
		domain.VerificationState = VerificationVerified
	}

	if err := r.store.CreateIfAbsent(ctx, domain); err != nil {
		return nil, err
	}

	r.record(ctx, ActionBind, req.Actor, nil, domain)
	r.notify()

	r.logger.InfoContext(ctx, "binding created",
		logger.Domain(value),
		logger.Tenant(req.TenantID),
		logger.Binding(string(req.BindingType)),
	)

	return domain.Clone(), nil
}

// CheckAvailability reports whether value can currently be bound. It is
// read-only and can race with a concurrent Create: callers must still
// handle ErrConflict from Create, which performs the authoritative
// atomic check.
func (r *Registry) CheckAvailability(ctx context.Context, bindingType BindingType, value string) (Availability, error) {
	value = NormalizeValue(value)
	if err := ValidateValue(bindingType, value); err != nil {
		return Invalid, nil
	}

	_, err := r.store.Get(ctx, value)
	switch {
	case err == nil:
		// Tombstoned-but-unreleased records still hold the claim.
		return Taken, nil
	case errors.Is(err, ErrNotFound):
		return Available, nil
	default:
		return "", err
	}
}

// Get returns the current record for value.
func (r *Registry) Get(ctx context.Context, value string) (*CustomDomain, error) {
	return r.store.Get(ctx, NormalizeValue(value))
}

// ListActiveForTenant returns all live bindings owned by a tenant.
func (r *Registry) ListActiveForTenant(ctx context.Context, tenantID string) ([]*CustomDomain, error) {
	return r.store.ListActiveForTenant(ctx, tenantID)
}

// ListExpiringBefore returns active bindings whose certificate expires
// before t. Used by the renewal sweep.
func (r *Registry) ListExpiringBefore(ctx context.Context, t time.Time) ([]*CustomDomain, error) {
	return r.store.ListExpiringBefore(ctx, t)
}

// Snapshot returns all non-released records for resolver view rebuilds.
func (r *Registry) Snapshot(ctx context.Context) ([]*CustomDomain, error) {
	return r.store.Snapshot(ctx)
}

// Mutation adjusts record fields alongside a state transition.
type Mutation func(*CustomDomain)

// WithChallengeToken stores the verification challenge token.
func WithChallengeToken(token string) Mutation {
	return func(d *CustomDomain) {
		d.ChallengeToken = token
	}
}

// WithCertificateExpiry stores the certificate expiry timestamp.
func WithCertificateExpiry(t time.Time) Mutation {
	return func(d *CustomDomain) {
		d.CertificateExpiresAt = t
	}
}

// WithLastError records the failure reason for a failed transition.
func WithLastError(err error) Mutation {
	return func(d *CustomDomain) {
		if err != nil {
			d.LastError = err.Error()
		}
	}
}

// TransitionVerification moves the record to the given verification
// state. Illegal predecessors fail with ErrInvalidStateTransition and
// leave the record unchanged. A successful move to Verified clears
// LastError and the challenge token.
func (r *Registry) TransitionVerification(ctx context.Context, actor, value string, to VerificationState, mutations ...Mutation) (*CustomDomain, error) {
	value = NormalizeValue(value)
	unlock := r.locks.Lock(value)
	defer unlock()

	before, err := r.store.Get(ctx, value)
	if err != nil {
		return nil, err
	}
	if before.Tombstoned() {
		return nil, fmt.Errorf("%w: %s", ErrTombstoned, value)
	}

	if !stateAllowed(verificationTransitions[to], before.VerificationState) {
		return nil, fmt.Errorf("%w: verification %s -> %s for %s",
			ErrInvalidStateTransition, before.VerificationState, to, value)
	}

	after := before.Clone()
	after.VerificationState = to
	if to == VerificationVerified {
		after.LastError = ""
		after.ChallengeToken = ""
	}
	for _, m := range mutations {
		m(after)
	}
	after.UpdatedAt = time.Now().UTC()

	if err := r.store.Update(ctx, after); err != nil {
		return nil, err
	}

	r.record(ctx, ActionVerificationTransition, actor, before, after)
	r.notify()

	r.logger.InfoContext(ctx, "verification state changed",
		logger.Domain(value),
		slog.String("from", string(before.VerificationState)),
		slog.String("to", string(to)),
	)

	return after.Clone(), nil
}

// TransitionCertificate moves the record to the given certificate state.
// Active is only reachable when control of the domain has been verified,
// and a successful activation clears LastError.
func (r *Registry) TransitionCertificate(ctx context.Context, actor, value string, to CertificateState, mutations ...Mutation) (*CustomDomain, error) {
	value = NormalizeValue(value)
	unlock := r.locks.Lock(value)
	defer unlock()

	before, err := r.store.Get(ctx, value)
	if err != nil {
		return nil, err
	}
	if before.Tombstoned() {
		return nil, fmt.Errorf("%w: %s", ErrTombstoned, value)
	}

	if !stateAllowed(certificateTransitions[to], before.CertificateState) {
		return nil, fmt.Errorf("%w: certificate %s -> %s for %s",
			ErrInvalidStateTransition, before.CertificateState, to, value)
	}
	if to == CertificateActive && before.VerificationState != VerificationVerified {
		return nil, fmt.Errorf("%w: certificate cannot activate before verification for %s",
			ErrInvalidStateTransition, value)
	}

	after := before.Clone()
	after.CertificateState = to
	if to == CertificateActive {
		after.LastError = ""
	}
	for _, m := range mutations {
		m(after)
	}
	after.UpdatedAt = time.Now().UTC()

	if err := r.store.Update(ctx, after); err != nil {
		return nil, err
	}

	r.record(ctx, ActionCertificateTransition, actor, before, after)
	r.notify()

	r.logger.InfoContext(ctx, "certificate state changed",
		logger.Domain(value),
		slog.String("from", string(before.CertificateState)),
		slog.String("to", string(to)),
	)

	return after.Clone(), nil
}

// Tombstone soft-deletes a binding and cancels any in-flight
// verification or issuance for it. The uniqueness claim on the value is
// kept until Release is called after the in-flight work has unwound.
func (r *Registry) Tombstone(ctx context.Context, actor, value string) (*CustomDomain, error) {
	value = NormalizeValue(value)
	unlock := r.locks.Lock(value)
	defer unlock()

	before, err := r.store.Get(ctx, value)
	if err != nil {
		return nil, err
	}
	if before.Tombstoned() {
		return before, nil
	}

	now := time.Now().UTC()
	after := before.Clone()
	after.DeletedAt = &now
	after.UpdatedAt = now

	if err := r.store.Update(ctx, after); err != nil {
		return nil, err
	}

	r.mu.Lock()
	cancel, inFlight := r.inflight[value]
	r.mu.Unlock()
	if inFlight {
		cancel()
	}

	r.record(ctx, ActionTombstone, actor, before, after)
	r.notify()

	r.logger.InfoContext(ctx, "binding tombstoned",
		logger.Domain(value),
		logger.Tenant(before.TenantID),
	)

	return after.Clone(), nil
}

// Release frees the uniqueness claim of a tombstoned binding so the
// value can be bound again. It refuses while the cancelled in-flight
// operation is still unwinding.
func (r *Registry) Release(ctx context.Context, actor, value string) error {
	value = NormalizeValue(value)
	unlock := r.locks.Lock(value)
	defer unlock()

	before, err := r.store.Get(ctx, value)
	if err != nil {
		return err
	}
	if !before.Tombstoned() {
		return fmt.Errorf("%w: %s", ErrNotTombstoned, value)
	}

	r.mu.Lock()
	_, inFlight := r.inflight[value]
	r.mu.Unlock()
	if inFlight {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, value)
	}

	after := before.Clone()
	after.Released = true
	after.UpdatedAt = time.Now().UTC()

	if err := r.store.Update(ctx, after); err != nil {
		return err
	}

	r.record(ctx, ActionRelease, actor, before, after)
	r.notify()

	return nil
}

// WorkContext registers a cancellable background operation for value.
// At most one operation per value may be in flight; a second caller gets
// ErrAlreadyInProgress. Tombstoning the value cancels the returned
// context. The done func must be called when the operation finishes.
func (r *Registry) WorkContext(ctx context.Context, value string) (context.Context, func(), error) {
	value = NormalizeValue(value)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inflight[value]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyInProgress, value)
	}

	opCtx, cancel := context.WithCancel(ctx)
	r.inflight[value] = cancel

	done := func() {
		r.mu.Lock()
		delete(r.inflight, value)
		r.mu.Unlock()
		cancel()
	}

	return opCtx, done, nil
}

// Subscribe registers a listener invoked after every mutation. Listeners
// must be fast and non-blocking; resolvers use this as their cache
// invalidation signal.
func (r *Registry) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.Lock()
	listeners := make([]func(), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (r *Registry) record(ctx context.Context, action, actor string, before, after *CustomDomain) {
	if r.audit == nil {
		return
	}

	var b, a any
	if before != nil {
		b = before.Clone()
	}
	if after != nil {
		a = after.Clone()
	}

	if err := r.audit.Record(ctx, action, actor, b, a); err != nil {
		// The audit collaborator owns retry; a synchronous failure here
		// still must not abort the already-committed mutation.
		r.logger.ErrorContext(ctx, "audit record failed",
			logger.Error(err),
			logger.Action(action),
		)
	}
}

func stateAllowed[S comparable](allowed []S, current S) bool {
	for _, s := range allowed {
		if s == current {
			return true
		}
	}
	return false
}
