package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type txKey struct{}

// TxFromContext returns the transaction stored in ctx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// WithTx returns a child context carrying tx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Transactor runs a function inside a single database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithinTxOptions(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error
}

// SnapshotTx is a read-only transaction that sees one consistent snapshot
// across every statement.
var SnapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

type pgTransactor struct {
	pool Pool
}

func NewTransactor(pool Pool) Transactor {
	return &pgTransactor{pool: pool}
}

// WithinTx begins a transaction, runs fn with the transaction in its
// context and commits when fn returns nil. Nested calls join the outer
// transaction.
func (t *pgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.WithinTxOptions(ctx, pgx.TxOptions{}, fn)
}

// WithinTxOptions is WithinTx with explicit isolation and access mode. A
// nested call joins the outer transaction and its options are ignored.
func (t *pgTransactor) WithinTxOptions(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// NopTransactor runs fn directly. Used by tests with in-memory repositories.
type NopTransactor struct{}

func (NopTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (NopTransactor) WithinTxOptions(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
