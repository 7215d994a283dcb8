package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/tixledger/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
}

var _ repository.Store = (*Store)(nil)

// NewStore wraps pool. maxRetries bounds how many times a transaction that
// failed with a serialization error is re-run.
func NewStore(pool *pgxpool.Pool, maxRetries int) *Store {
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Store{
		pool:       pool,
		maxRetries: maxRetries,
	}
}

// RunTx runs fn in a SERIALIZABLE read-write transaction. When the commit or
// any statement fails with a serialization or deadlock error the whole
// transaction, fn included, is retried.
func (s *Store) RunTx(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Tx) error,
) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.runTxOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}

	return err
}

func (s *Store) runTxOnce(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Tx) error,
) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, scoped{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapDBErr("commit", err)
	}

	return nil
}

func (s *Store) Registry() repository.RegistryRepo { return &RegistryRepo{db: s.pool} }
func (s *Store) Tickets() repository.TicketRepo    { return &TicketRepo{db: s.pool} }
func (s *Store) Balances() repository.BalanceRepo  { return &BalanceRepo{db: s.pool} }

// scoped binds the repositories to one transaction.
type scoped struct{ db DB }

func (t scoped) Registry() repository.RegistryRepo { return &RegistryRepo{db: t.db} }
func (t scoped) Tickets() repository.TicketRepo    { return &TicketRepo{db: t.db} }
func (t scoped) Balances() repository.BalanceRepo  { return &BalanceRepo{db: t.db} }
