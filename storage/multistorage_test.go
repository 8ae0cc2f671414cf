package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBlobStore implements interfaces.BlobStore for testing
type MockBlobStore struct {
	mock.Mock
	name string
}

func (m *MockBlobStore) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockBlobStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockBlobStore) Name() string {
	return m.name
}

func (m *MockBlobStore) LocationURI() string {
	return "mock://" + m.name
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{name: "all backends available", backends: []bool{true, true, true}, expected: true},
		{name: "some backends available", backends: []bool{false, true, false}, expected: true},
		{name: "no backends available", backends: []bool{false, false, false}, expected: false},
		{name: "no backends", backends: []bool{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.BlobStore
			for i, available := range tt.backends {
				mockStorage := &MockBlobStore{name: fmt.Sprintf("mock-%d", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			multi := NewMultiStorageBackend(backends, slog.New(slog.NewTextHandler(io.Discard, nil)))
			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, backend := range backends {
				backend.(*MockBlobStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Fetch(t *testing.T) {
	testData := []byte("sealed vault")
	testID := interfaces.ComputeID(testData)
	testErr := errors.New("connection reset")

	tests := []struct {
		name         string
		setupMocks   func() []interfaces.BlobStore
		expectedData []byte
		expectedErr  error
	}{
		{
			name: "first backend successful",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(testData, nil)

				// Not consulted once the first backend answers.
				mock2 := &MockBlobStore{name: "B"}

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(nil, testErr)

				mock2 := &MockBlobStore{name: "B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(testData, nil)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "missing everywhere",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(nil, interfaces.ErrContentNotFound)

				mock2 := &MockBlobStore{name: "B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(nil, interfaces.ErrContentNotFound)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedErr: interfaces.ErrContentNotFound,
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(nil, testErr)

				mock2 := &MockBlobStore{name: "B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(nil, interfaces.ErrContentNotFound)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedErr: interfaces.ErrBackendUnavailable,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockBlobStore{name: "B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, testID, interfaces.VaultType).Return(testData, nil)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "nothing reachable",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(false)
				return []interfaces.BlobStore{mock1}
			},
			expectedErr: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, slog.New(slog.NewTextHandler(io.Discard, nil)))

			data, err := multi.Fetch(context.Background(), testID, interfaces.VaultType)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, backend := range backends {
				backend.(*MockBlobStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Store(t *testing.T) {
	testData := []byte("sealed key")
	testID := interfaces.ComputeID(testData)
	testErr := errors.New("bucket not writable")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.BlobStore
		expectedError bool
	}{
		{
			name: "all backends successful",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testData, interfaces.KeyType).Return(testID, nil)

				mock2 := &MockBlobStore{name: "B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testData, interfaces.KeyType).Return(testID, nil)

				return []interfaces.BlobStore{mock1, mock2}
			},
		},
		{
			name: "some backends fail",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testData, interfaces.KeyType).Return(testID, nil)

				mock2 := &MockBlobStore{name: "B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testData, interfaces.KeyType).Return(interfaces.ContentID{}, testErr)

				return []interfaces.BlobStore{mock1, mock2}
			},
		},
		{
			name: "backend returns a foreign content ID",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testData, interfaces.KeyType).Return(interfaces.ContentID{1}, nil)

				return []interfaces.BlobStore{mock1}
			},
			expectedError: true,
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.BlobStore {
				mock1 := &MockBlobStore{name: "A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testData, interfaces.KeyType).Return(interfaces.ContentID{}, testErr)

				mock2 := &MockBlobStore{name: "B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.BlobStore{mock1, mock2}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, slog.New(slog.NewTextHandler(io.Discard, nil)))

			id, err := multi.Store(context.Background(), testData, interfaces.KeyType)
			if tt.expectedError {
				assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
			} else {
				require.NoError(t, err)
				assert.Equal(t, testID, id)
			}

			for _, backend := range backends {
				backend.(*MockBlobStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_WithFileBackends(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	primary, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)
	replica, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	multi := NewMultiStorageBackend([]interfaces.BlobStore{primary, replica}, logger)
	ctx := context.Background()

	id, err := multi.Store(ctx, []byte("blob"), interfaces.VaultType)
	require.NoError(t, err)

	for _, backend := range []*FileBackend{primary, replica} {
		data, err := backend.Fetch(ctx, id, interfaces.VaultType)
		require.NoError(t, err)
		assert.Equal(t, []byte("blob"), data)

		_, err = backend.Fetch(ctx, id, interfaces.KeyType)
		assert.ErrorIs(t, err, interfaces.ErrContentNotFound, "Content types are separate namespaces")
	}
}
