// Package pg provides PostgreSQL connection management and the durable
// registry store for the domain lifecycle engine.
//
// Connect establishes a pgx pool with exponential-backoff retry for
// transient startup failures; Migrate applies the embedded goose
// migrations. DomainStore implements domainregistry.Store: the partial
// unique index on value (WHERE NOT released) gives CreateIfAbsent its
// atomic uniqueness guarantee, and released tombstones stay in the
// table to preserve audit history.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := pg.Migrate(ctx, pool); err != nil {
//		log.Fatal(err)
//	}
//
//	store, err := pg.NewDomainStore(pool)
package pg
