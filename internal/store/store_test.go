package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-8}
	out, err := DecodeVector(EncodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "unsupported sqlite driver")
}

func TestOpen_CreatesDirectoryAndUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "x.db")
	db, err := Open(DriverModernc, path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.FileExists(t, path)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := Open(DriverModernc, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Version: 1, Statements: []string{"CREATE TABLE a (id INTEGER PRIMARY KEY)"}},
		{Version: 2, Statements: []string{"ALTER TABLE a ADD COLUMN name TEXT"}},
	}

	v, err := Migrate(ctx, db, "test", migrations)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.True(t, TableExists(ctx, db, "a"))
	assert.False(t, TableExists(ctx, db, "b"))

	// idempotent
	v, err = Migrate(ctx, db, "test", migrations)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = Migrate(ctx, db, "test", append(migrations, Migration{Version: 3, Statements: []string{"NOT SQL"}}))
	assert.Error(t, err)
	v, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "failed migration must not bump the version")
}

func TestVectorDistanceSQL(t *testing.T) {
	db, err := Open(DriverModernc, filepath.Join(t.TempDir(), "v.db"))
	require.NoError(t, err)
	defer db.Close()

	var same, orth float64
	require.NoError(t, db.QueryRow("SELECT vector_distance_cos(?, ?)",
		EncodeVector([]float32{1, 0}), EncodeVector([]float32{2, 0})).Scan(&same))
	require.NoError(t, db.QueryRow("SELECT vector_distance_cos(?, ?)",
		EncodeVector([]float32{1, 0}), EncodeVector([]float32{0, 1})).Scan(&orth))
	assert.InDelta(t, 0, same, 1e-9)
	assert.InDelta(t, 1, orth, 1e-9)
	assert.Equal(t, "vector_distance_cos", VectorDistanceFunc(DriverModernc))
}
