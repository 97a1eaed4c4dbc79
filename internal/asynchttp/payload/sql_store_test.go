package payload

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE payload_blobs (key TEXT PRIMARY KEY, data_base64 TEXT)`)
	require.NoError(t, err)

	return NewSQLStore(db, "payload_blobs", DialectSQLite)
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	key := store.GenerateKey()
	_, err := store.Store(ctx, key, []byte("hello"))
	require.NoError(t, err)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	data, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key)) // idempotent

	_, found, err = store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLStoreUpsertOverwritesExistingKey(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	key := "fixed-key"
	_, err := store.Store(ctx, key, []byte("first"))
	require.NoError(t, err)
	_, err = store.Store(ctx, key, []byte("second"))
	require.NoError(t, err)

	data, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("second"), data)
}

func TestSQLStoreFetchMissingKey(t *testing.T) {
	store := openSQLiteStore(t)

	_, found, err := store.Fetch(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLStoreName(t *testing.T) {
	store := openSQLiteStore(t)
	assert.Equal(t, "sql", store.Name())
}
