package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	b, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return map[string]Store{"badger": b, "sqlite": s}
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "operation:a:metadata", []byte("one")))

			got, err := store.Get(ctx, "operation:a:metadata")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), got)

			require.NoError(t, store.Put(ctx, "operation:a:metadata", []byte("two")))
			got, err = store.Get(ctx, "operation:a:metadata")
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), got)

			require.NoError(t, store.Delete(ctx, "operation:a:metadata"))
			_, err = store.Get(ctx, "operation:a:metadata")
			assert.ErrorIs(t, err, ErrNotFound)

			// deleting a missing key is not an error
			assert.NoError(t, store.Delete(ctx, "operation:missing:metadata"))
		})
	}
}

func TestStoreBatchAndScan(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "workspace:w1:state", []byte("old")))

			err := store.Batch(ctx, []Op{
				Put("operation:b:metadata", []byte("b")),
				Put("operation:a:metadata", []byte("a")),
				Put("snapshot:s1:metadata", []byte("s")),
				Delete("workspace:w1:state"),
			})
			require.NoError(t, err)

			entries, err := store.Scan(ctx, OperationPrefix)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "operation:a:metadata", entries[0].Key)
			assert.Equal(t, "operation:b:metadata", entries[1].Key)

			_, err = store.Get(ctx, "workspace:w1:state")
			assert.ErrorIs(t, err, ErrNotFound)

			count, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, count)
		})
	}
}

func TestStoreJSONHelpers(t *testing.T) {
	ctx := context.Background()
	type record struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, PutJSON(ctx, store, SnapshotKey("s1"), record{ID: "s1", Count: 4}))

			var got record
			require.NoError(t, GetJSON(ctx, store, SnapshotKey("s1"), &got))
			assert.Equal(t, record{ID: "s1", Count: 4}, got)

			assert.ErrorIs(t, GetJSON(ctx, store, SnapshotKey("nope"), &got), ErrNotFound)
		})
	}
}

func TestOpenPersistentBackends(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()

			store, err := Open(backend, dir, nil)
			require.NoError(t, err)
			require.NoError(t, store.Put(ctx, "k:1:v", []byte("persisted")))
			require.NoError(t, store.Close())

			store, err = Open(backend, dir, nil)
			require.NoError(t, err)
			defer store.Close()

			got, err := store.Get(ctx, "k:1:v")
			require.NoError(t, err)
			assert.Equal(t, []byte("persisted"), got)
		})
	}

	_, err := Open("leveldb", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestStoreContextCancelled(t *testing.T) {
	store, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Put(ctx, "k:1:v", []byte("x")))
}

func TestParseKey(t *testing.T) {
	entity, id, field, ok := ParseKey("operation:abc:metadata")
	require.True(t, ok)
	assert.Equal(t, "operation", entity)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "metadata", field)

	_, id, _, ok = ParseKey("workspace:agent:with:colon:state")
	require.True(t, ok)
	assert.Equal(t, "agent:with:colon", id)

	_, _, _, ok = ParseKey("nokey")
	assert.False(t, ok)
}
