package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/social-recovery-backend/interfaces"
)

// MultiStorageBackend replicates blobs to several backends and reads from
// the first one that has them.
type MultiStorageBackend struct {
	backends []interfaces.BlobStore
	log      *slog.Logger
}

// NewMultiStorageBackend creates a replicating backend over backends, tried in order.
func NewMultiStorageBackend(backends []interfaces.BlobStore, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the blob from the first available backend that has it.
// Returns ErrContentNotFound when every reachable backend reports it missing
// and ErrBackendUnavailable when none could be reached.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	contentID := id.String()[:16]

	var errs []error
	reached := 0
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", "backend", backend.Name(), "contentID", contentID)
			continue
		}
		reached++

		data, err := backend.Fetch(ctx, id, contentType)
		if err == nil {
			m.log.Debug("Fetched content",
				"backend", backend.Name(),
				"contentID", contentID,
				"duration", time.Since(start))
			return data, nil
		}

		if !errors.Is(err, interfaces.ErrContentNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
		m.log.Debug("Failed to fetch from backend", "backend", backend.Name(), "contentID", contentID, "err", err)
	}

	switch {
	case reached == 0:
		return nil, fmt.Errorf("%w: no backend reachable", interfaces.ErrBackendUnavailable)
	case len(errs) == 0:
		return nil, interfaces.ErrContentNotFound
	}

	m.log.Error("All backends failed to fetch content",
		"contentID", contentID,
		"failedBackends", len(errs),
		"duration", time.Since(start))
	return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, errors.Join(errs...))
}

// Store writes the blob to every available backend. It succeeds when at
// least one backend accepted it.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	start := time.Now()
	expected := interfaces.ComputeID(data)

	var errs []error
	stored := 0
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", "backend", backend.Name())
			continue
		}

		id, err := backend.Store(ctx, data, contentType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend", "backend", backend.Name(), "err", err)
			continue
		}
		if id != expected {
			errs = append(errs, fmt.Errorf("%s: returned content ID %s, expected %s", backend.Name(), id, expected))
			m.log.Warn("Inconsistent content ID from backend", "backend", backend.Name(), "contentID", id.String())
			continue
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All backends failed to store data",
			"failedBackends", len(errs),
			"duration", time.Since(start))
		return expected, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, errors.Join(errs...))
	}

	m.log.Debug("Stored content", "contentID", expected.String(), "replicas", stored, "duration", time.Since(start))
	return expected, nil
}

// Available checks if any backend is available.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend.
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI lists the location URIs of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
