// Package domainregistry is the source of truth for domain-to-tenant
// bindings and their verification and certificate state.
//
// A binding claims its value (path slug, subdomain slug, or fully
// qualified domain) in a single uniqueness namespace shared across all
// binding types. The claim is taken atomically at creation, survives
// tombstoning, and is only freed by an explicit Release once in-flight
// work has been cancelled.
//
// All mutations for a value are serialized behind a per-value mutex,
// state transitions only accept their legal predecessor states, and
// every mutation emits exactly one audit event with before and after
// snapshots. WorkContext additionally gives verification and issuance
// their single-flight guarantee and the cancellation signal fired by
// Tombstone.
//
//	registry, err := domainregistry.New(domainregistry.NewMemoryStore(),
//		domainregistry.WithAuditRecorder(emitter),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	domain, err := registry.Create(ctx, domainregistry.BindingRequest{
//		TenantID:            "t1",
//		BindingType:         domainregistry.BindingCustomDomain,
//		Value:               "shop.example.com",
//		CertificateProvider: domainregistry.ProviderACME,
//		Actor:               "user:42",
//	})
package domainregistry
