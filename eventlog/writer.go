package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
)

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	store Store
	newID func() uuid.UUID
	now   func() time.Time
}

func NewWriter(store Store) *Writer {
	if store == nil {
		store = NewPGStore()
	}
	return &Writer{store: store, newID: uuid.New, now: time.Now}
}

// WithClock overrides the timestamp source.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	if now != nil {
		w.now = now
	}
	return w
}

// Append records ev and enqueues it for relay. Both land or neither does.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, ev Event) error {
	if ev.Name == "" || ev.AggregateKind == "" {
		return fmt.Errorf("eventlog: event name and aggregate kind required")
	}
	payload := ev.Payload
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventlog: marshal %s: %w", ev.Name, err)
	}

	rec := Record{
		ID:            w.newID(),
		AggregateKind: ev.AggregateKind,
		AggregateID:   ev.AggregateID,
		Name:          ev.Name,
		Payload:       raw,
		CreatedAt:     w.now().UTC(),
	}
	return w.store.Insert(ctx, tx, rec, Topic(ev.AggregateKind, ev.Name))
}

// List returns the audit trail for one aggregate.
func (w *Writer) List(ctx context.Context, q db.Querier, kind string, id bytes32.ID) ([]Record, error) {
	return w.store.List(ctx, q, kind, id)
}

// Topic is the outbox topic for an event.
func Topic(kind, name string) string {
	return "oracle." + kind + "." + name
}

func outboxPayload(rec Record) json.RawMessage {
	raw, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("eventlog: marshal outbox payload: %v", err))
	}
	return raw
}
