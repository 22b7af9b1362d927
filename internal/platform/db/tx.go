package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTxKey carries the active pgx.Tx so repositories join the caller's
// transaction instead of taking a fresh connection.
const DBTxKey contextKey = "db_tx"

// Queryable is the subset of pgx shared by pools, pooled conns and transactions.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithTx returns a copy of ctx carrying tx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext retrieves the transaction stored by WithTx.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Conn resolves the connection a repository should use: the active
// transaction, then the tenant-scoped connection, then the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// ParseIsolation maps a config value onto a pgx isolation level. The empty
// string selects read committed.
func ParseIsolation(s string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "read_committed", "read committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read", "repeatable read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("unsupported transaction isolation %q", s)
	}
}

// TxManager runs functions inside a database transaction.
type TxManager struct {
	pool      *pgxpool.Pool
	isolation pgx.TxIsoLevel
}

func NewTxManager(pool *pgxpool.Pool, isolation pgx.TxIsoLevel) *TxManager {
	if isolation == "" {
		isolation = pgx.ReadCommitted
	}
	return &TxManager{pool: pool, isolation: isolation}
}

// InTx begins a transaction, stores it in the context handed to fn and
// commits when fn returns nil. Any error, including a business conflict,
// rolls the transaction back. Nested calls reuse the outer transaction.
//
// The transaction is opened on the tenant-scoped connection when one is
// present so the tenant search_path applies to every statement.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	opts := pgx.TxOptions{IsoLevel: m.isolation}
	var tx pgx.Tx
	if c := ConnFromContext(ctx); c != nil {
		tx, err = c.BeginTx(ctx, opts)
	} else {
		tx, err = m.pool.BeginTx(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
