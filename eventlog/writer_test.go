package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"oracleflow/bytes32"
	"oracleflow/db/memtx"
)

func TestAppendIsVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := NewWriter(store).WithClock(func() time.Time { return time.Unix(100, 0) })
	pool := memtx.New()
	id := bytes32.MustFromString("a1")

	tx, _ := pool.Begin(ctx)
	if err := w.Append(ctx, tx, Event{AggregateKind: KindAssertion, AggregateID: id, Name: AssertionMade, Payload: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := store.Names(KindAssertion, id); len(got) != 0 {
		t.Fatalf("event visible before commit: %v", got)
	}
	_ = tx.Commit(ctx)

	recs, err := w.List(ctx, nil, KindAssertion, id)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != AssertionMade {
		t.Fatalf("unexpected records: %+v", recs)
	}
	var payload map[string]string
	if err := json.Unmarshal(recs[0].Payload, &payload); err != nil || payload["k"] != "v" {
		t.Fatalf("payload not preserved: %s", recs[0].Payload)
	}
}

func TestAppendRejectsUnnamedEvent(t *testing.T) {
	w := NewWriter(NewMemoryStore())
	if err := w.Append(context.Background(), nil, Event{AggregateKind: KindAssertion}); err == nil {
		t.Fatalf("expected error for missing name")
	}
}

type recordingPublisher struct {
	topics []string
	failAt int
}

func (p *recordingPublisher) Publish(_ context.Context, msg OutboxMessage) error {
	if p.failAt > 0 && len(p.topics)+1 == p.failAt {
		return errors.New("downstream unavailable")
	}
	p.topics = append(p.topics, msg.Topic)
	return nil
}

func TestRelayDrainStopsAtFailureAndResumes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := NewWriter(store)
	for _, name := range []string{AssertionMade, AssertionDisputed, AssertionSettled} {
		if err := w.Append(ctx, nil, Event{AggregateKind: KindAssertion, Name: name}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	pub := &recordingPublisher{failAt: 2}
	relay := NewRelay(store, memtx.New(), pub, nil)
	n, err := relay.Drain(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 published before failure, got %d (%v)", n, err)
	}

	pub.failAt = 0
	n, _ = relay.Drain(ctx)
	if n != 2 {
		t.Fatalf("expected remaining 2 published, got %d", n)
	}
	want := []string{
		Topic(KindAssertion, AssertionMade),
		Topic(KindAssertion, AssertionDisputed),
		Topic(KindAssertion, AssertionSettled),
	}
	for i, topic := range want {
		if pub.topics[i] != topic {
			t.Fatalf("topic %d: expected %s, got %s", i, topic, pub.topics[i])
		}
	}
}
