package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrymomot/domainkit/core/logger"
)

var (
	// ErrSinkNil is returned when constructing an emitter without a sink.
	ErrSinkNil = errors.New("sink cannot be nil")

	// ErrEmitterStopped is returned when recording after Stop.
	ErrEmitterStopped = errors.New("emitter stopped")
)

// Emitter delivers audit events to a sink. Record is fire-and-forget
// from the caller's perspective: events are snapshotted synchronously,
// queued, and delivered by a background dispatcher with bounded-backoff
// retry. Delivery failures are logged with the full payload, never
// silently discarded.
type Emitter struct {
	sink   Sink
	log    *slog.Logger
	queue  chan Event
	maxTry uint64

	mu        sync.Mutex
	stopped   bool
	producers sync.WaitGroup
	stopping  chan struct{}
	done      chan struct{}
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithEmitterLogger sets the logger for delivery failures.
func WithEmitterLogger(log *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if log != nil {
			e.log = log
		}
	}
}

// WithQueueSize sets the dispatch buffer size (default 256). A full
// queue makes Record block rather than drop events.
func WithQueueSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan Event, n)
		}
	}
}

// WithMaxDeliveryAttempts bounds per-event retries (default 5).
func WithMaxDeliveryAttempts(n uint64) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.maxTry = n
		}
	}
}

// NewEmitter creates an emitter and starts its dispatcher.
func NewEmitter(sink Sink, opts ...EmitterOption) (*Emitter, error) {
	if sink == nil {
		return nil, ErrSinkNil
	}

	e := &Emitter{
		sink:     sink,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		queue:    make(chan Event, 256),
		maxTry:   5,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	go e.dispatch()

	return e, nil
}

// Record snapshots the before/after state and queues one audit event.
// It blocks when the queue is full instead of dropping the event.
func (e *Emitter) Record(ctx context.Context, action, actor string, before, after any) error {
	event, err := newEvent(action, actor, before, after)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEmitterStopped
	}
	e.producers.Add(1)
	e.mu.Unlock()
	defer e.producers.Done()

	select {
	case e.queue <- event:
		return nil
	case <-e.stopping:
		// Shutdown raced with a blocked send; deliver inline so the
		// event is not lost.
		return e.deliver(context.Background(), event)
	case <-ctx.Done():
		// The mutation already happened; deliver inline rather than lose
		// the event when the caller's context is gone.
		return e.deliver(context.Background(), event)
	}
}

// Stop waits for in-flight Record calls, then closes the queue and
// waits for the dispatcher to drain it.
func (e *Emitter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	close(e.stopping)
	e.mu.Unlock()

	// The queue is closed only once no producer can still be sending.
	e.producers.Wait()
	close(e.queue)

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) dispatch() {
	defer close(e.done)

	for event := range e.queue {
		if err := e.deliver(context.Background(), event); err != nil {
			// Keep the payload in the log so the event survives somewhere.
			e.log.Error("audit delivery failed after retries",
				logger.Error(err),
				slog.String("audit_id", event.ID),
				logger.Action(event.Action),
				slog.String("before", string(event.Before)),
				slog.String("after", string(event.After)),
			)
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, event Event) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	), e.maxTry)

	return backoff.Retry(func() error {
		return e.sink.Write(ctx, event)
	}, backoff.WithContext(policy, ctx))
}
