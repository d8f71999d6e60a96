package eventlog

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/db/memtx"
)

// MemoryStore keeps events and outbox rows in process.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []Record
	outbox    []OutboxMessage
	published map[int]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{published: make(map[int]bool)}
}

func (s *MemoryStore) Insert(_ context.Context, tx pgx.Tx, rec Record, topic string) error {
	memtx.Stage(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, rec)
		s.outbox = append(s.outbox, OutboxMessage{
			ID:        rec.ID,
			Topic:     topic,
			Payload:   outboxPayload(rec),
			CreatedAt: rec.CreatedAt,
		})
	})
	return nil
}

func (s *MemoryStore) List(_ context.Context, _ db.Querier, kind string, id bytes32.ID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.events {
		if rec.AggregateKind == kind && rec.AggregateID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) ProcessOutbox(_ context.Context, _ db.TxBeginner, limit int, fn func(OutboxMessage) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := 0
	for i, msg := range s.outbox {
		if published >= limit {
			break
		}
		if s.published[i] {
			continue
		}
		if err := fn(msg); err != nil {
			break
		}
		s.published[i] = true
		published++
	}
	return published, nil
}

// Names returns the event names recorded for an aggregate, oldest first.
func (s *MemoryStore) Names(kind string, id bytes32.ID) []string {
	recs, _ := s.List(context.Background(), nil, kind, id)
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Name)
	}
	return names
}
