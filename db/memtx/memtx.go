// Package memtx provides an in-process stand-in for a pgx pool. Transactions
// are serialized and their writes are staged until Commit, so in-memory
// repositories keep the load-check-mutate discipline of the Postgres ones.
package memtx

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnsupported is returned when SQL is issued against an in-memory transaction.
var ErrUnsupported = errors.New("memtx: sql not supported on in-memory transaction")

// Pool hands out one transaction at a time.
type Pool struct {
	mu sync.Mutex
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{}
}

// Begin blocks until no other transaction is open.
func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	return &Tx{pool: p}, nil
}

// Tx collects staged writes.
type Tx struct {
	pool   *Pool
	staged []func()
	done   bool
}

// Stage defers fn until tx commits. Outside a memtx transaction fn runs immediately.
func Stage(tx pgx.Tx, fn func()) {
	if mt, ok := tx.(*Tx); ok && !mt.done {
		mt.staged = append(mt.staged, fn)
		return
	}
	fn()
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memtx: nested transactions not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	for _, fn := range t.staged {
		fn()
	}
	t.finish()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.staged = nil
	t.done = true
	t.pool.mu.Unlock()
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, ErrUnsupported
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("memtx: batches not supported")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("memtx: large objects not supported")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, ErrUnsupported
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrUnsupported
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, ErrUnsupported
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

type errRow struct{}

func (errRow) Scan(...any) error { return ErrUnsupported }
