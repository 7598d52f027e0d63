package interfaces

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// SecureStore persists opaque blobs under namespaced keys.
//
// Keys are slash separated ("wallets/index", "wallets/<uuid>"). Implementations
// must treat values as opaque; confidentiality is provided by wrapping a store
// in storage.SealedStore rather than by the backend itself.
type SecureStore interface {
	// Get returns the value stored under key or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Available reports whether the backend can currently serve requests.
	Available(ctx context.Context) bool

	// Name identifies the backend in logs.
	Name() string
}

// StoreLocation is a URI selecting a SecureStore backend, e.g.
// "memory://", "file:///var/lib/walletd", "sqlite:///var/lib/walletd/state.db",
// "vault://vault.internal:8200/secret/walletd", "s3://bucket/prefix?region=eu-west-1".
type StoreLocation string

// Scheme returns the lower-cased URI scheme.
func (l StoreLocation) Scheme() (string, error) {
	u, err := url.Parse(string(l))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: missing scheme in %q", ErrInvalidLocationURI, string(l))
	}
	return strings.ToLower(u.Scheme), nil
}

// Store key namespaces.
const (
	WalletIndexKey   = "wallets/index"
	WalletKeyPrefix  = "wallets/"
	AccountKeyPrefix = "accounts/"
	AccountIndexKey  = "accounts/index"
)

// WalletKey returns the store key of a wallet blob.
func WalletKey(id string) string { return WalletKeyPrefix + id }

// AccountKey returns the store key of a hybrid account record.
func AccountKey(id string) string { return AccountKeyPrefix + id }

// ValidateStoreKey rejects keys that could escape a namespace when mapped to
// paths or object names by a backend.
func ValidateStoreKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty store key", ErrInvalidInput)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: illegal store key %q", ErrInvalidInput, key)
	}
	return nil
}
