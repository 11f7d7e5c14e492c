package audit

import (
	"context"
	"log/slog"
)

// Sink is the downstream audit store collaborator. Implementations own
// durable storage and querying; the emitter only guarantees delivery.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Write(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// SlogSink writes audit events to a structured logger. Intended for
// development and as a last-resort fallback, not as a durable store.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) Write(ctx context.Context, event Event) error {
	s.log.InfoContext(ctx, "audit event",
		slog.String("audit_id", event.ID),
		slog.String("action", event.Action),
		slog.String("actor", event.Actor),
		slog.String("before", string(event.Before)),
		slog.String("after", string(event.After)),
		slog.Time("created_at", event.CreatedAt),
	)
	return nil
}
