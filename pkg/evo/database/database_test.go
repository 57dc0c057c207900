package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "evo.db")

	backend, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer backend.Close()

	assert.Equal(t, BackendSQLite, backend.Type)
	assert.Equal(t, "SELECT ?", backend.Rebind("SELECT ?"))
	version, err := backend.Migrator.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestOpen_UnsupportedBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "mysql"}, nil)
	assert.Error(t, err)
}

func TestRebind_PostgreSQL(t *testing.T) {
	b := &Backend{Type: BackendPostgreSQL}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2 AND c = $3", b.Rebind("UPDATE t SET a = ? WHERE b = ? AND c = ?"))
}

func TestConfig_Effective(t *testing.T) {
	cfg := Config{}.Effective()
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "./data/evo.db", cfg.SQLite.Path)
	assert.Equal(t, "WAL", cfg.SQLite.JournalMode)
	assert.Equal(t, 5000, cfg.SQLite.BusyTimeout)
	assert.Equal(t, 5432, cfg.PostgreSQL.Port)
}
