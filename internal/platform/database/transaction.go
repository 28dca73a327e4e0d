package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type txContextKey struct{}

func txFromContext(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey{}).(*gorm.DB)
	return tx
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

// RunInTx executes fn inside a database transaction. Repositories resolving their handle through
// Provider.DB with the context handed to fn take part in the transaction. Nested calls reuse the
// outer transaction.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return WrapError("transaction", errors.New("database: transaction function is nil"))
	}
	if p.closed.Load() {
		return ErrProviderClosed
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if p.txTimeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > p.txTimeout {
			txnCtx, cancel = context.WithTimeout(ctx, p.txTimeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	var fnErr error
	err := p.db.WithContext(txnCtx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(context.WithValue(txnCtx, txContextKey{}, tx))
		return fnErr
	})
	if err == nil {
		return nil
	}
	// Errors produced by fn are domain decisions and pass through untouched.
	if fnErr != nil && errors.Is(err, fnErr) {
		return err
	}
	return WrapError("transaction", err)
}
