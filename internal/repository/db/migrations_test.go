package db

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Migrations need a Supabase flavoured Postgres (auth schema and roles), so they only run
// when one is provided.
func TestMigrations(t *testing.T) {
	conn := os.Getenv("TEST_POSTGRES_CONN")
	if conn == "" {
		t.Skip("TEST_POSTGRES_CONN is not set")
	}

	db, err := NewPostgresDB(conn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateUp(db))

	var exists bool
	err = db.QueryRow(`SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'award_request')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, MigrateDown(db))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, "000001_init.down.sql", entries[0].Name())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://user:xxxxx@db:5432/app?sslmode=disable", redact("postgres://user:secret@db:5432/app?sslmode=disable"))
	assert.Equal(t, "postgres://db:5432/app", redact("postgres://db:5432/app"))
}
