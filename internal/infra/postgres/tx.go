package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transactions are stored in context using txContextKey

type ctxKey string

const txContextKey ctxKey = "mirror_tx"

type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txManager carries a pgx transaction through the context so every
// repository method works both inside and outside a unit of work
type txManager struct {
	pool *pgxpool.Pool
}

// BeginTx starts a new database transaction and stores it in the context
func (m txManager) BeginTx(ctx context.Context) (context.Context, error) {
	if tx := m.getTxFromContext(ctx); tx != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the database transaction from the context
func (m txManager) CommitTx(ctx context.Context) error {
	tx := m.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RollbackTx rolls back the database transaction from the context
func (m txManager) RollbackTx(ctx context.Context) error {
	tx := m.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

// WithinTx runs fn in one transaction. Nested calls join the outer transaction.
func (m txManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.getTxFromContext(ctx) != nil {
		return fn(ctx)
	}

	txCtx, err := m.BeginTx(ctx)
	if err != nil {
		return err
	}

	if err := fn(txCtx); err != nil {
		_ = m.RollbackTx(txCtx)
		return err
	}

	return m.CommitTx(txCtx)
}

func (m txManager) getTxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// getQueryer returns the transaction if one exists in context, otherwise the pool
func (m txManager) getQueryer(ctx context.Context) queryer {
	if tx := m.getTxFromContext(ctx); tx != nil {
		return tx
	}
	return m.pool
}
