// Package database opens the backend that stores Evo's server configuration
// and user memory. SQLite is the default backend, requiring zero
// configuration; PostgreSQL is available for shared deployments.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jholhewres/evo/pkg/evo/database/backends"
)

// BackendType identifies the type of database backend.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
)

// Backend is an open database connection plus the pieces needed to use it.
type Backend struct {
	// Type indicates the database type
	Type BackendType

	// DB is the underlying database connection
	DB *sql.DB

	// Migrator handles schema migrations
	Migrator Migrator

	// Health monitors database health
	Health HealthChecker
}

// Migrator applies the schema.
type Migrator interface {
	CurrentVersion(ctx context.Context) (int, error)
	Migrate(ctx context.Context) error
}

// HealthChecker reports database health.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) map[string]any
}

// Close closes the database connection.
func (b *Backend) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

// Rebind rewrites "?" parameter markers into the backend's dialect.
// Queries are written with "?" and rebound to "$1..$n" for PostgreSQL.
func (b *Backend) Rebind(query string) string {
	if b.Type != BackendPostgreSQL {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Open opens the configured backend and applies the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()

	var backend *Backend
	switch cfg.Backend {
	case BackendSQLite:
		sb, err := backends.OpenSQLite(backends.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			JournalMode: cfg.SQLite.JournalMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("database: open sqlite: %w", err)
		}
		backend = &Backend{Type: BackendSQLite, DB: sb.DB, Migrator: sb.Migrator, Health: sb.Health}

	case BackendPostgreSQL:
		pg := cfg.PostgreSQL
		pb, err := backends.OpenPostgreSQL(ctx, backends.PostgreSQLConfig{
			Host:            pg.Host,
			Port:            pg.Port,
			Database:        pg.Database,
			User:            pg.User,
			Password:        pg.Password,
			SSLMode:         pg.SSLMode,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("database: open postgresql: %w", err)
		}
		backend = &Backend{Type: BackendPostgreSQL, DB: pb.DB, Migrator: pb.Migrator, Health: pb.Health}

	default:
		return nil, fmt.Errorf("database: unsupported backend %q", cfg.Backend)
	}

	if err := backend.Migrator.Migrate(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}

	version, _ := backend.Migrator.CurrentVersion(ctx)
	logger.Info("database ready", "backend", backend.Type, "schema_version", version)
	return backend, nil
}
