package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockSecureStore implements interfaces.SecureStore for testing
type MockSecureStore struct {
	mock.Mock
	name string
}

func (m *MockSecureStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSecureStore) Put(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockSecureStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockSecureStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockSecureStore) Name() string {
	return m.name
}

func TestMultiStore_Available(t *testing.T) {
	tests := []struct {
		name     string
		stores   []bool
		expected bool
	}{
		{
			name:     "all stores available",
			stores:   []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some stores available",
			stores:   []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no stores available",
			stores:   []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no stores",
			stores:   []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stores []interfaces.SecureStore
			for i, available := range tt.stores {
				mockStore := &MockSecureStore{name: fmt.Sprintf("mock-A%x", i)}
				mockStore.On("Available", mock.Anything).Return(available).Maybe()
				stores = append(stores, mockStore)
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStore(stores, logger)

			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, store := range stores {
				store.(*MockSecureStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStore_Get(t *testing.T) {
	testKey := "wallets/abc"
	testData := []byte("test data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.SecureStore
		expectedData  []byte
		expectedError error
	}{
		{
			name: "first store successful",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(testData, nil)

				// Never consulted once the first store answers
				mock2 := &MockSecureStore{name: "mock-B"}

				return []interfaces.SecureStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first store fails, second succeeds",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(nil, testErr)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, testKey).Return(testData, nil)

				return []interfaces.SecureStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "all stores fail",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(nil, testErr)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, testKey).Return(nil, interfaces.ErrKeyNotFound)

				return []interfaces.SecureStore{mock1, mock2}
			},
			expectedError: testErr,
		},
		{
			name: "missing everywhere",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, testKey).Return(nil, interfaces.ErrKeyNotFound)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.SecureStore{mock1, mock2}
			},
			expectedError: interfaces.ErrKeyNotFound,
		},
		{
			name: "unavailable stores are skipped",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, testKey).Return(testData, nil)

				return []interfaces.SecureStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "nothing available",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)
				return []interfaces.SecureStore{mock1}
			},
			expectedError: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStore(stores, logger)

			data, err := multi.Get(context.Background(), testKey)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, store := range stores {
				store.(*MockSecureStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStore_Put(t *testing.T) {
	testKey := "wallets/abc"
	testData := []byte("test data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.SecureStore
		expectedError bool
	}{
		{
			name: "all stores successful",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Put", mock.Anything, testKey, testData).Return(nil)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, testKey, testData).Return(nil)

				return []interfaces.SecureStore{mock1, mock2}
			},
		},
		{
			name: "some stores fail",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Put", mock.Anything, testKey, testData).Return(nil)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, testKey, testData).Return(testErr)

				return []interfaces.SecureStore{mock1, mock2}
			},
		},
		{
			name: "all stores fail",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Put", mock.Anything, testKey, testData).Return(testErr)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, testKey, testData).Return(testErr)

				return []interfaces.SecureStore{mock1, mock2}
			},
			expectedError: true,
		},
		{
			name: "unavailable stores are skipped",
			setupMocks: func() []interfaces.SecureStore {
				mock1 := &MockSecureStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockSecureStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, testKey, testData).Return(nil)

				return []interfaces.SecureStore{mock1, mock2}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStore(stores, logger)

			err := multi.Put(context.Background(), testKey, testData)

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			for _, store := range stores {
				store.(*MockSecureStore).AssertExpectations(t)
			}
		})
	}
}
