package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/tee-wallet-kms/interfaces"
)

// MultiStore fans writes out to every available store and reads from the
// first store that holds the key.
type MultiStore struct {
	stores []interfaces.SecureStore
	log    *slog.Logger
}

func NewMultiStore(stores []interfaces.SecureStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStore{
		stores: stores,
		log:    logger,
	}
}

// Get returns ErrKeyNotFound only when every reachable store reports the key
// missing. Any other failure takes precedence.
func (m *MultiStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Store unavailable",
				slog.String("store_name", store.Name()),
				slog.String("key", key))
			continue
		}

		data, err := store.Get(ctx, key)
		if err == nil {
			m.log.Debug("Fetched blob",
				slog.String("store_name", store.Name()),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		m.log.Debug("Failed to fetch from store",
			slog.String("store_name", store.Name()),
			slog.String("key", key),
			"err", err)
	}

	if len(errs) == 0 && notFound > 0 {
		return nil, interfaces.ErrKeyNotFound
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no store available", interfaces.ErrBackendUnavailable)
	}

	m.log.Error("All stores failed to fetch blob",
		slog.String("key", key),
		slog.Int("failed_stores", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil, fmt.Errorf("all stores failed to fetch %s: %w", key, errors.Join(errs...))
}

// Put succeeds when at least one store accepted the value.
func (m *MultiStore) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	var errs []error
	stored := 0

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Store unavailable", slog.String("store_name", store.Name()))
			continue
		}

		if err := store.Put(ctx, key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.log.Warn("Failed to store to store",
				slog.String("store_name", store.Name()),
				slog.String("key", key),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All stores failed to store blob",
			slog.String("key", key),
			slog.Int("failed_stores", len(errs)),
			slog.Duration("duration", time.Since(start)))
		if len(errs) == 0 {
			return fmt.Errorf("%w: no store available", interfaces.ErrBackendUnavailable)
		}
		return fmt.Errorf("all stores failed to store %s: %w", key, errors.Join(errs...))
	}
	return nil
}

// Delete removes the key from every available store.
func (m *MultiStore) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, store := range m.stores {
		if !store.Available(ctx) {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Available checks if any store is available
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, store := range m.stores {
		if store.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStore) Name() string {
	return "multi-store"
}
