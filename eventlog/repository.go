package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
)

// Store persists audit records and their outbox copies.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record, topic string) error
	List(ctx context.Context, q db.Querier, kind string, id bytes32.ID) ([]Record, error)
	// ProcessOutbox hands up to limit unpublished messages to fn and marks the
	// ones fn accepted as published.
	ProcessOutbox(ctx context.Context, pool db.TxBeginner, limit int, fn func(OutboxMessage) error) (int, error)
}

// PGStore is the Postgres Store.
type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, rec Record, topic string) error {
	if _, err := tx.Exec(ctx, `
INSERT INTO oracle_events (id, aggregate_kind, aggregate_id, event, payload, created_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		rec.ID, rec.AggregateKind, rec.AggregateID.Bytes(), rec.Name, string(rec.Payload), rec.CreatedAt); err != nil {
		return fmt.Errorf("eventlog: insert event: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO outbox (id, topic, payload, created_at)
VALUES ($1, $2, $3::jsonb, $4)`,
		uuid.New(), topic, string(outboxPayload(rec)), rec.CreatedAt); err != nil {
		return fmt.Errorf("eventlog: enqueue outbox: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, q db.Querier, kind string, id bytes32.ID) ([]Record, error) {
	rows, err := q.Query(ctx, `
SELECT id, aggregate_kind, event, payload::text, created_at
FROM oracle_events
WHERE aggregate_kind = $1 AND aggregate_id = $2
ORDER BY created_at, id`, kind, id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.AggregateKind, &rec.Name, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		rec.AggregateID = id
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) ProcessOutbox(ctx context.Context, pool db.TxBeginner, limit int, fn func(OutboxMessage) error) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventlog: begin relay: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload::text, created_at
FROM outbox
WHERE published_at IS NULL
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1`, limit)
	if err != nil {
		return 0, fmt.Errorf("eventlog: claim outbox: %w", err)
	}

	var batch []OutboxMessage
	for rows.Next() {
		var (
			msg     OutboxMessage
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.Topic, &payload, &msg.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("eventlog: scan outbox: %w", err)
		}
		msg.Payload = []byte(payload)
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("eventlog: claim outbox: %w", err)
	}

	published := 0
	for _, msg := range batch {
		if err := fn(msg); err != nil {
			// retried on the next tick, in order
			break
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, msg.ID, time.Now().UTC()); err != nil {
			return 0, fmt.Errorf("eventlog: mark published: %w", err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("eventlog: commit relay: %w", err)
	}
	return published, nil
}
