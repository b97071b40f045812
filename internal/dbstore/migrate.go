package dbstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending migration to databaseURL. Safe to call at
// every process start on both nodes — golang-migrate tracks the applied
// version in schema_migrations and is a no-op when already current.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, toPgxMigrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// toPgxMigrateURL rewrites a pgx-style URL for golang-migrate's postgres
// driver, which expects the "postgres://" scheme with a "x-migrations-table"
// style query left untouched; for our schema the URLs are compatible as-is.
func toPgxMigrateURL(databaseURL string) string {
	return databaseURL
}

var _ = postgres.Config{} // keep the postgres driver import registered
