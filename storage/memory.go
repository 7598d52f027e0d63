package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/ruteri/tee-wallet-kms/interfaces"
)

// MemoryStore keeps values in process memory. Values are copied on the way
// in and out, so callers may zero their buffers after Put.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		clear(old)
	}
	s.data[key] = slices.Clone(value)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		clear(old)
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) Available(ctx context.Context) bool { return true }

func (s *MemoryStore) Name() string { return "memory" }

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
