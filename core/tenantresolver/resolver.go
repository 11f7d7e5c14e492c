package tenantresolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/domainkit/core/domainregistry"
	"github.com/dmitrymomot/domainkit/core/logger"
)

// ErrNotFound is returned when no routable binding matches the input.
// Callers fall back to the default/unbound-tenant page.
var ErrNotFound = errors.New("no tenant for host or path")

// ErrRegistryNil is returned when constructing a resolver without a registry.
var ErrRegistryNil = errors.New("registry cannot be nil")

// Method reports how a request was matched to a tenant.
type Method string

const (
	ByCustomDomain Method = "custom-domain"
	BySubdomain    Method = "subdomain"
	ByPathSlug     Method = "path-slug"
)

// CertificateRef points at the active certificate for a binding. The
// serving layer fetches the actual material by Value from the
// certificate store.
type CertificateRef struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Resolution is the routing decision for one inbound request.
type Resolution struct {
	TenantID    string          `json:"tenant_id"`
	Value       string          `json:"value"`
	BindingType string          `json:"binding_type"`
	Method      Method          `json:"method"`
	Certificate *CertificateRef `json:"certificate,omitempty"`
}

// Config holds resolver settings. Designed for environment-based
// configuration using popular env parsing libraries.
type Config struct {
	// BaseDomains are the platform's own domains. Hosts matching one of
	// them (optionally behind a landlord prefix like app. or www.) never
	// resolve to a tenant, and {slug}.{base} resolves subdomain bindings.
	BaseDomains []string `env:"BASE_DOMAINS" envSeparator:","`

	// SnapshotTTL bounds how stale the routing view may get when no
	// registry change notification arrives.
	SnapshotTTL time.Duration `env:"RESOLVER_SNAPSHOT_TTL" envDefault:"3s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		SnapshotTTL: 3 * time.Second,
	}
}

var landlordPrefixes = []string{"app.", "www.", "admin.", "api."}

// registrySource is the read surface the resolver needs from the registry.
type registrySource interface {
	Snapshot(ctx context.Context) ([]*domainregistry.CustomDomain, error)
	Subscribe(fn func())
}

// Resolver answers the per-request routing query: which tenant owns this
// host or path, and which certificate serves it. The hot path reads an
// immutable in-memory view that is swapped atomically; it never blocks
// on issuance or verification work.
type Resolver struct {
	registry registrySource
	cfg      Config
	cache    Cache
	log      *slog.Logger

	view    atomic.Pointer[routingView]
	stale   atomic.Bool
	rebuild sync.Mutex
}

// routingView is an immutable index over routable bindings.
type routingView struct {
	builtAt    time.Time
	byDomain   map[string]*entry // custom-domain, exact host
	bySlug     map[string]*entry // subdomain, keyed by slug
	byPathSlug map[string]*entry // path-slug, keyed by first segment
}

type entry struct {
	tenantID    string
	value       string
	bindingType domainregistry.BindingType
	expiresAt   time.Time
	hasCert     bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger for internal operations.
func WithLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithConfig overrides base domains and snapshot TTL.
func WithConfig(cfg Config) ResolverOption {
	return func(r *Resolver) {
		r.cfg = cfg
		if r.cfg.SnapshotTTL <= 0 {
			r.cfg.SnapshotTTL = DefaultConfig().SnapshotTTL
		}
	}
}

// WithCache adds a shared resolution cache (e.g. Redis) in front of the
// local snapshot for multi-replica deployments.
func WithCache(cache Cache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// New creates a resolver subscribed to registry change notifications.
func New(registry registrySource, opts ...ResolverOption) (*Resolver, error) {
	if registry == nil {
		return nil, ErrRegistryNil
	}

	r := &Resolver{
		registry: registry,
		cfg:      DefaultConfig(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.stale.Store(true)
	registry.Subscribe(func() {
		r.stale.Store(true)
	})

	return r, nil
}

// Resolve maps an inbound host (optionally host:port) or request path to
// the owning tenant. Matching order: exact custom domain, subdomain
// pattern, path-slug prefix. Only routable bindings are visible: failed,
// tombstoned, and expired domains yield ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, hostOrPath string) (*Resolution, error) {
	input := strings.TrimSpace(strings.ToLower(hostOrPath))
	if input == "" {
		return nil, ErrNotFound
	}

	if r.cache != nil {
		if res, ok, err := r.cache.Get(ctx, input); err == nil && ok {
			return res, nil
		}
	}

	res, err := r.resolveLocal(ctx, input)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, input, res); err != nil {
			r.log.DebugContext(ctx, "resolution cache write failed", logger.Error(err))
		}
	}

	return res, nil
}

func (r *Resolver) resolveLocal(ctx context.Context, input string) (*Resolution, error) {
	view, err := r.currentView(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if strings.HasPrefix(input, "/") {
		if slug := firstPathSegment(input); slug != "" {
			if e, ok := view.byPathSlug[slug]; ok && e.routable(now) {
				return e.resolution(ByPathSlug), nil
			}
		}
		return nil, ErrNotFound
	}

	host := stripPort(input)

	if e, ok := view.byDomain[host]; ok && e.routable(now) {
		return e.resolution(ByCustomDomain), nil
	}

	if r.isLandlordHost(host) {
		return nil, ErrNotFound
	}

	if slug := r.subdomainSlug(host); slug != "" {
		if e, ok := view.bySlug[slug]; ok && e.routable(now) {
			return e.resolution(BySubdomain), nil
		}
	}

	return nil, ErrNotFound
}

// currentView returns the routing view, rebuilding it when marked stale
// or older than the TTL. When another goroutine is already rebuilding,
// the previous view is served instead of blocking the request.
func (r *Resolver) currentView(ctx context.Context) (*routingView, error) {
	view := r.view.Load()
	fresh := view != nil && !r.stale.Load() && time.Since(view.builtAt) < r.cfg.SnapshotTTL
	if fresh {
		return view, nil
	}

	if !r.rebuild.TryLock() {
		if view != nil {
			return view, nil
		}
		// First build: nothing to serve yet, wait for the builder.
		r.rebuild.Lock()
	}
	defer r.rebuild.Unlock()

	// Re-check: the previous holder may have rebuilt already.
	view = r.view.Load()
	if view != nil && !r.stale.Load() && time.Since(view.builtAt) < r.cfg.SnapshotTTL {
		return view, nil
	}

	records, err := r.registry.Snapshot(ctx)
	if err != nil {
		if view != nil {
			return view, nil
		}
		return nil, err
	}

	next := &routingView{
		builtAt:    time.Now(),
		byDomain:   make(map[string]*entry),
		bySlug:     make(map[string]*entry),
		byPathSlug: make(map[string]*entry),
	}

	now := time.Now()
	for _, rec := range records {
		if !rec.Routable(now) {
			continue
		}

		e := &entry{
			tenantID:    rec.TenantID,
			value:       rec.Value,
			bindingType: rec.BindingType,
			expiresAt:   rec.CertificateExpiresAt,
			hasCert:     rec.CertificateState == domainregistry.CertificateActive || rec.CertificateState == domainregistry.CertificateRenewing,
		}

		switch rec.BindingType {
		case domainregistry.BindingCustomDomain:
			next.byDomain[rec.Value] = e
		case domainregistry.BindingSubdomain:
			next.bySlug[rec.Value] = e
		case domainregistry.BindingPathSlug:
			next.byPathSlug[rec.Value] = e
		}
	}

	r.stale.Store(false)
	r.view.Store(next)

	return next, nil
}

func (r *Resolver) isLandlordHost(host string) bool {
	for _, base := range r.cfg.BaseDomains {
		base = strings.ToLower(strings.TrimSpace(base))
		if base == "" {
			continue
		}
		if host == base {
			return true
		}
		for _, prefix := range landlordPrefixes {
			if host == prefix+base {
				return true
			}
		}
	}
	return false
}

// subdomainSlug extracts the slug from {slug}.{base} hosts.
func (r *Resolver) subdomainSlug(host string) string {
	for _, base := range r.cfg.BaseDomains {
		base = strings.ToLower(strings.TrimSpace(base))
		if base == "" {
			continue
		}
		suffix := "." + base
		if !strings.HasSuffix(host, suffix) {
			continue
		}
		slug := strings.TrimSuffix(host, suffix)
		if slug != "" && !strings.Contains(slug, ".") {
			return slug
		}
	}
	return ""
}

func (e *entry) routable(now time.Time) bool {
	if e.bindingType == domainregistry.BindingPathSlug {
		return true
	}
	return e.expiresAt.After(now)
}

func (e *entry) resolution(method Method) *Resolution {
	res := &Resolution{
		TenantID:    e.tenantID,
		Value:       e.value,
		BindingType: string(e.bindingType),
		Method:      method,
	}
	if e.hasCert {
		res.Certificate = &CertificateRef{
			Value:     e.value,
			ExpiresAt: e.expiresAt,
		}
	}
	return res
}

func firstPathSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
