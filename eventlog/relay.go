package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"oracleflow/db"
)

// Publisher delivers one outbox message downstream.
type Publisher interface {
	Publish(ctx context.Context, msg OutboxMessage) error
}

// RedisPublisher appends outbox messages to a redis stream.
type RedisPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisPublisher(rdb *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = "oracle.events"
	}
	return &RedisPublisher{rdb: rdb, stream: stream, maxLen: 100_000}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg OutboxMessage) error {
	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":      msg.ID.String(),
			"topic":   msg.Topic,
			"payload": string(msg.Payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("eventlog: xadd %s: %w", msg.Topic, err)
	}
	return nil
}

// LogPublisher writes outbox messages to the log. Used when no redis is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, msg OutboxMessage) error {
	p.log.Info("outbox", zap.String("topic", msg.Topic), zap.ByteString("payload", msg.Payload))
	return nil
}

// Relay drains the outbox into a Publisher.
type Relay struct {
	store    Store
	pool     db.TxBeginner
	pub      Publisher
	batch    int
	interval time.Duration
	log      *zap.Logger
}

func NewRelay(store Store, pool db.TxBeginner, pub Publisher, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{store: store, pool: pool, pub: pub, batch: 50, interval: 500 * time.Millisecond, log: log}
}

// WithInterval sets the idle poll interval.
func (r *Relay) WithInterval(d time.Duration) *Relay {
	if d > 0 {
		r.interval = d
	}
	return r
}

// Drain publishes one batch and reports how many messages went out.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	return r.store.ProcessOutbox(ctx, r.pool, r.batch, func(msg OutboxMessage) error {
		return r.pub.Publish(ctx, msg)
	})
}

// Run drains until ctx is cancelled. Full batches are followed immediately by another drain.
func (r *Relay) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		n, err := r.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Warn("outbox relay failed", zap.Error(err))
		}
		if n >= r.batch {
			timer.Reset(0)
			continue
		}
		timer.Reset(r.interval)
	}
}
