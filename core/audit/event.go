package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one append-only audit record: a state-changing action with
// the entity snapshot before and after the mutation.
type Event struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// newEvent snapshots both sides immediately so later mutations of the
// source records cannot leak into the audit trail.
func newEvent(action, actor string, before, after any) (Event, error) {
	e := Event{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}

	var err error
	if before != nil {
		if e.Before, err = json.Marshal(before); err != nil {
			return Event{}, fmt.Errorf("marshal before snapshot: %w", err)
		}
	}
	if after != nil {
		if e.After, err = json.Marshal(after); err != nil {
			return Event{}, fmt.Errorf("marshal after snapshot: %w", err)
		}
	}

	return e, nil
}
