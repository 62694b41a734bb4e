package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/config/*.sql
var configMigrations embed.FS

//go:embed migrations/security/*.sql
var securityMigrations embed.FS

// MigrateConfig applies every pending config.db migration.
func MigrateConfig(db *sql.DB) error {
	return runMigrations(db, configMigrations, "migrations/config")
}

// MigrateSecurity applies every pending security.db migration.
func MigrateSecurity(db *sql.DB) error {
	return runMigrations(db, securityMigrations, "migrations/security")
}

func runMigrations(db *sql.DB, fsys embed.FS, dir string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite3 migration driver: %w", err)
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
