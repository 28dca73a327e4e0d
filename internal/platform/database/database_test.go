package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockProvider(t *testing.T) (*Provider, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewProvider(gormDB), mock
}

func TestWrapErrorClassifiesPostgresCodes(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, conflict: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := WrapError("op", tc.err)
			var repoErr *Error
			require.True(t, errors.As(err, &repoErr))
			assert.Equal(t, tc.notFound, repoErr.IsNotFound())
			assert.Equal(t, tc.conflict, repoErr.IsConflict())
			assert.Equal(t, tc.unavailable, repoErr.IsUnavailable())
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestWrapErrorPassesThroughContextErrors(t *testing.T) {
	assert.Same(t, context.Canceled, WrapError("op", context.Canceled))
	assert.Nil(t, WrapError("op", nil))
}

func TestRunInTxCommits(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	var sawTx bool
	err := provider.RunInTx(context.Background(), func(ctx context.Context) error {
		sawTx = InTx(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sawTx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackAndReturnsDomainError(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	domainErr := errors.New("insufficient stock")
	err := provider.RunInTx(context.Background(), func(ctx context.Context) error {
		return domainErr
	})
	assert.Same(t, domainErr, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxReusesOuterTransaction(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := provider.RunInTx(context.Background(), func(ctx context.Context) error {
		return provider.RunInTx(ctx, func(inner context.Context) error {
			calls++
			assert.Same(t, txFromContext(ctx), txFromContext(inner))
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxAfterClose(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectClose()
	require.NoError(t, provider.Close(context.Background()))

	err := provider.RunInTx(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrProviderClosed)
}
