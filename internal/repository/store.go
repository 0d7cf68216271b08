package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/observability"
)

// DefaultTxAttempts bounds automatic retries of transactions that fail with
// a serialization or deadlock error.
const DefaultTxAttempts = 3

// Store provides query access and transaction scoping over the pool.
type Store struct {
	db         *pgxpool.Pool
	queries    *Queries
	txAttempts int
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:         db,
		queries:    New(db),
		txAttempts: DefaultTxAttempts,
	}
}

// WithTxAttempts overrides the retry bound for transient conflicts.
func (s *Store) WithTxAttempts(attempts int) *Store {
	if attempts > 0 {
		s.txAttempts = attempts
	}
	return s
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RunInTxRetry executes fn within a transaction, retrying up to the
// configured attempt bound when the database reports a serialization failure
// or deadlock. fn must be safe to re-run from scratch. Exhausted retries
// surface as a transient domain error.
func (s *Store) RunInTxRetry(ctx context.Context, fn func(q *Queries) error) error {
	var err error
	for attempt := 1; attempt <= s.txAttempts; attempt++ {
		err = s.RunInTx(ctx, fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
		observability.IncrementTxRetry()
		zap.L().Warn("retrying transaction after serialization conflict",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return domain.WrapError(domain.KindTransient, err,
		"transaction aborted after %d serialization conflicts", s.txAttempts)
}

// IsSerializationFailure reports whether err is a transient conflict the
// database expects the client to retry: serialization_failure (40001) or
// deadlock_detected (40P01).
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
