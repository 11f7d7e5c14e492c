// Package tenantresolver answers the per-request routing query: given
// an inbound host or path, which tenant owns it and which certificate
// serves it.
//
// Matching order is exact custom domain, then {slug}.{base} subdomain,
// then path-slug first segment. Hosts matching a configured base domain
// (or a landlord prefix of one, like app. or www.) never resolve to a
// tenant. Only routable bindings are visible: custom domains and
// subdomains need an active unexpired certificate, path slugs need only
// verified control.
//
// The hot path reads an immutable snapshot swapped atomically; it is
// invalidated by registry change notifications and bounded by a short
// TTL, so Resolve never blocks on verification or issuance work.
package tenantresolver
