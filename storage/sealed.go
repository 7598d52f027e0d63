package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/tee-wallet-kms/cryptoutils"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
)

// SealedStore encrypts values with AES-256-GCM before handing them to the
// wrapped store. The store key is bound as associated data, so a blob copied
// to another key fails to open.
type SealedStore struct {
	inner interfaces.SecureStore
	key   *security.SecureBytes
}

// NewSealedStore copies key; the caller keeps ownership of its slice.
func NewSealedStore(inner interfaces.SecureStore, key []byte) (*SealedStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: sealing key must be 32 bytes, got %d", interfaces.ErrInvalidKey, len(key))
	}
	return &SealedStore{inner: inner, key: security.CopySecureBytes(key)}, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	value, err := cryptoutils.OpenAESGCM(s.key.Bytes(), blob, []byte(key))
	if err != nil {
		if errors.Is(err, cryptoutils.ErrOpen) {
			return nil, fmt.Errorf("%w: sealed blob %q failed authentication", interfaces.ErrSecurityViolation, key)
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}
	return value, nil
}

func (s *SealedStore) Put(ctx context.Context, key string, value []byte) error {
	blob, err := cryptoutils.SealAESGCM(s.key.Bytes(), value, []byte(key))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}
	return s.inner.Put(ctx, key, blob)
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *SealedStore) Available(ctx context.Context) bool { return s.inner.Available(ctx) }

func (s *SealedStore) Name() string { return "sealed-" + s.inner.Name() }

// Close zeroes the sealing key.
func (s *SealedStore) Close() error {
	s.key.Destroy()
	return nil
}
