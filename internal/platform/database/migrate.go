package database

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrate applies every pending migration found under dir in fsys.
func (p *Provider) Migrate(fsys fs.FS, dir string) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("database: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("database: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("database: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database: run migrations: %w", err)
	}
	return nil
}
