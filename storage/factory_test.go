package storage

import (
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFactory_StoreFor(t *testing.T) {
	factory := NewStoreFactory(testLogger())
	dir := t.TempDir()

	tests := []struct {
		name     string
		location string
		wantType interface{}
		wantErr  bool
	}{
		{name: "memory", location: "memory://", wantType: &MemoryStore{}},
		{name: "file", location: "file://" + filepath.Join(dir, "files"), wantType: &FileStore{}},
		{name: "sqlite file", location: "sqlite://" + filepath.Join(dir, "w.db"), wantType: &SQLiteStore{}},
		{name: "sqlite memory", location: "sqlite://memory", wantType: &SQLiteStore{}},
		{name: "vault", location: "vault://127.0.0.1:8200/secret/walletd?tls=false", wantType: &VaultStore{}},
		{name: "s3", location: "s3://bucket/walletd?region=eu-west-1&endpoint=http://127.0.0.1:9000", wantType: &S3Store{}},
		{name: "vault without mount", location: "vault://127.0.0.1:8200", wantErr: true},
		{name: "unknown scheme", location: "ftp://host/path", wantErr: true},
		{name: "empty file path", location: "file://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := factory.StoreFor(interfaces.StoreLocation(tt.location))
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, store)
			if closer, ok := store.(*SQLiteStore); ok {
				closer.Close()
			}
		})
	}
}

func TestStoreFactory_CreateMultiStore(t *testing.T) {
	factory := NewStoreFactory(testLogger())

	store, err := factory.CreateMultiStore([]interfaces.StoreLocation{"memory://", "bogus://x"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store, "A single usable location is returned unwrapped")

	store, err = factory.CreateMultiStore([]interfaces.StoreLocation{"memory://", interfaces.StoreLocation("file://" + t.TempDir())})
	require.NoError(t, err)
	assert.Equal(t, "multi-store", store.Name())
	exerciseStore(t, store)

	_, err = factory.CreateMultiStore([]interfaces.StoreLocation{"bogus://x"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestVaultStore_secretPath(t *testing.T) {
	store, err := NewVaultStore("http://127.0.0.1:8200", "t", "/secret/", "/walletd/", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "secret/data/walletd/wallets/abc", store.secretPath("data", "wallets/abc"))
	assert.Equal(t, "secret/metadata/walletd/wallets/abc", store.secretPath("metadata", "wallets/abc"))
}
