package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "relay.sqlite")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "ok.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, data TEXT)")
	require.NoError(t, err)

	issues, err := VerifyIntegrity(context.Background(), db, "full")
	require.NoError(t, err)
	assert.Nil(t, issues)
}
