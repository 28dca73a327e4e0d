package database

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hanko-field/storefront/internal/platform/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultTxTimeout = 15 * time.Second

var ErrProviderClosed = errors.New("database: provider is closed")

// Provider owns the shared gorm connection pool.
type Provider struct {
	db        *gorm.DB
	txTimeout time.Duration
	closed    atomic.Bool
}

// OpenOption customises how Open builds the gorm handle.
type OpenOption func(*gorm.Config)

// WithLogWriter routes gorm's slow query and error logs to w.
func WithLogWriter(w logger.Writer, slowThreshold time.Duration) OpenOption {
	return func(cfg *gorm.Config) {
		if w == nil {
			return
		}
		cfg.Logger = logger.New(w, logger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithTxTimeout overrides the timeout applied to transactions that lack a tighter deadline.
func WithTxTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.txTimeout = timeout
		}
	}
}

// Open connects to PostgreSQL using the supplied configuration and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, openOpts ...OpenOption) (*Provider, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database: dsn is required")
	}
	gormCfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range openOpts {
		if opt != nil {
			opt(gormCfg)
		}
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, WrapError("ping", err)
	}

	return NewProvider(db, WithTxTimeout(cfg.TxTimeout)), nil
}

// NewProvider wraps an existing gorm handle, primarily for tests backed by sqlmock.
func NewProvider(db *gorm.DB, opts ...ProviderOption) *Provider {
	provider := &Provider{db: db, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// DB returns the transaction bound to ctx when present, otherwise the shared pool.
func (p *Provider) DB(ctx context.Context) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return p.db.WithContext(ctx)
}

// Ping verifies the database is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return WrapError("ping", err)
	}
	return WrapError("ping", sqlDB.PingContext(ctx))
}

// Close releases the connection pool. The Provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- sqlDB.Close()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
