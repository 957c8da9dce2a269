// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// TX represents a transaction. It satisfies Execer, so queries run on
// it unchanged; the engine issues commands and expects rows to be
// drained before the transaction is reused.
type TX struct {
	sqltx *sql.Tx
	done  int32
}

// TXOptions holds the transaction options used in Begin.
type TXOptions struct {
	// Isolation is the transaction isolation level. If zero, the
	// driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Begin starts a transaction. A transaction must be ended with a
// Commit or Rollback.
func Begin(ctx context.Context, db *sql.DB, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx}, nil
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// QueryContext implements Execer.
func (tx *TX) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx.isDone() {
		return nil, ErrTXDone
	}
	return tx.sqltx.QueryContext(ctx, query, args...)
}

// ExecContext implements Execer.
func (tx *TX) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx.isDone() {
		return nil, ErrTXDone
	}
	return tx.sqltx.ExecContext(ctx, query, args...)
}
