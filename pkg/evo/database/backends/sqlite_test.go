package backends

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	config := SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "nested", "test.db"),
		JournalMode: "WAL",
		BusyTimeout: 5000,
	}

	backend, err := OpenSQLite(config)
	require.NoError(t, err)
	defer backend.Close()

	require.NotNil(t, backend.DB)
	assert.NoError(t, backend.Health.Ping(context.Background()))
}

func TestSQLiteMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer backend.Close()

	version, err := backend.Migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	require.NoError(t, backend.Migrator.Migrate(ctx))
	require.NoError(t, backend.Migrator.Migrate(ctx))

	version, err = backend.Migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	for _, table := range []string{"server_configs", "user_memories"} {
		var name string
		err := backend.DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestSQLiteHealth_Status(t *testing.T) {
	backend, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer backend.Close()

	status := backend.Health.Status(context.Background())
	assert.Equal(t, true, status["healthy"])
	assert.NotEqual(t, "unknown", status["version"])
}

func TestBuildPostgreSQLDSN(t *testing.T) {
	dsn := BuildPostgreSQLDSN(PostgreSQLConfig{
		Host: "db", Port: 5433, User: "evo", Password: "pw", Database: "evo", SSLMode: "disable",
	})
	assert.Equal(t, "host=db port=5433 user=evo password=pw dbname=evo sslmode=disable", dsn)
}
