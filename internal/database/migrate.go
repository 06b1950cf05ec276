// Package database はキャッシュデータベースの接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// cacheURLはsqlite3://パス、スキームなしのパス、またはPostgreSQLの接続URLを指定する。
func NewMigrator(cacheURL string) (*migrate.Migrate, error) {
	databaseURL, err := MigrationURL(cacheURL)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合、およびmemory://の場合はエラーなしで返る。
func RunMigrations(cacheURL string) error {
	dialect, _, err := ParseCacheURL(cacheURL)
	if err != nil {
		return err
	}
	if dialect == DialectMemory {
		return nil
	}

	m, err := NewMigrator(cacheURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
