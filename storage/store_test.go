package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseStore runs the behaviour every SecureStore must share.
func exerciseStore(t *testing.T, store interfaces.SecureStore) {
	ctx := context.Background()
	require.True(t, store.Available(ctx))

	_, err := store.Get(ctx, "wallets/missing")
	require.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	value := []byte{0x00, 0xff, 0x10, 0x20}
	require.NoError(t, store.Put(ctx, "wallets/w1", value))

	got, err := store.Get(ctx, "wallets/w1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x10, 0x20}, got)

	// Overwrite
	require.NoError(t, store.Put(ctx, "wallets/w1", []byte("second")))
	got, err = store.Get(ctx, "wallets/w1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	require.NoError(t, store.Put(ctx, interfaces.WalletIndexKey, []byte("index")))
	got, err = store.Get(ctx, interfaces.WalletIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("index"), got)

	require.NoError(t, store.Delete(ctx, "wallets/w1"))
	_, err = store.Get(ctx, "wallets/w1")
	require.ErrorIs(t, err, interfaces.ErrKeyNotFound)
	require.NoError(t, store.Delete(ctx, "wallets/w1"), "Delete is idempotent")

	for _, bad := range []string{"", "/etc/passwd", "wallets/../../x", `wallets\x`} {
		assert.ErrorIs(t, store.Put(ctx, bad, value), interfaces.ErrInvalidInput, "key %q", bad)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())

	t.Run("values are copied", func(t *testing.T) {
		store := NewMemoryStore()
		value := []byte("secret")
		require.NoError(t, store.Put(context.Background(), "accounts/a", value))
		clear(value)

		got, err := store.Get(context.Background(), "accounts/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), got)

		got[0] = 'X'
		again, _ := store.Get(context.Background(), "accounts/a")
		assert.Equal(t, []byte("secret"), again)
	})
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "store"), testLogger())
	require.NoError(t, err)
	exerciseStore(t, store)

	t.Run("persists across instances", func(t *testing.T) {
		require.NoError(t, store.Put(context.Background(), "accounts/index", []byte("a,b")))

		reopened, err := NewFileStore(filepath.Join(dir, "store"), testLogger())
		require.NoError(t, err)
		got, err := reopened.Get(context.Background(), "accounts/index")
		require.NoError(t, err)
		assert.Equal(t, []byte("a,b"), got)
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		store, err := NewSQLiteStore(":memory:", testLogger())
		require.NoError(t, err)
		defer store.Close()
		exerciseStore(t, store)
	})

	t.Run("on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wallets.db")
		store, err := NewSQLiteStore(path, testLogger())
		require.NoError(t, err)
		exerciseStore(t, store)

		require.NoError(t, store.Put(context.Background(), "wallets/keep", []byte("kept")))
		require.NoError(t, store.Close())

		reopened, err := NewSQLiteStore(path, testLogger())
		require.NoError(t, err)
		defer reopened.Close()
		got, err := reopened.Get(context.Background(), "wallets/keep")
		require.NoError(t, err)
		assert.Equal(t, []byte("kept"), got)
	})
}
