// Package audit emits append-only before/after snapshots for every
// state-changing operation in the domain lifecycle engine.
//
// The Emitter satisfies the registry's AuditRecorder interface: events
// are snapshotted at call time, queued, and delivered to a Sink with
// bounded-backoff retry. The Sink is the external collaborator boundary;
// this package does not define how events are stored or queried.
//
//	emitter, err := audit.NewEmitter(mySink)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer emitter.Stop(ctx)
//
//	registry, err := domainregistry.New(store,
//		domainregistry.WithAuditRecorder(emitter),
//	)
package audit
