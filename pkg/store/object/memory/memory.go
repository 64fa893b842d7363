// Package memory provides an in-memory object store used by tests and
// local development. It implements the same staging/durable split as the
// real backends.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/sensorsink/pkg/store/object"
)

type blob struct {
	data         []byte
	lastModified time.Time
}

// Store keeps staged and durable payloads in maps.
type Store struct {
	mu      sync.RWMutex
	staged  map[string]*blob
	durable map[string]*blob
}

// New creates an empty in-memory object store.
func New() *Store {
	return &Store{
		staged:  make(map[string]*blob),
		durable: make(map[string]*blob),
	}
}

// Append appends r to the staging blob.
func (s *Store) Append(ctx context.Context, uploadID string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return n, fmt.Errorf("reading chunk: %w", err)
	}
	_ = size // the memory backend needs no length hint

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.staged[uploadID]
	if !ok {
		b = &blob{}
		s.staged[uploadID] = b
	}
	b.data = append(b.data, buf.Bytes()...)
	b.lastModified = time.Now()
	return n, nil
}

// BytesUploaded returns the staging blob size.
func (s *Store) BytesUploaded(ctx context.Context, uploadID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.staged[uploadID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
	}
	return int64(len(b.data)), nil
}

// Exists reports whether the staging blob exists.
func (s *Store) Exists(ctx context.Context, uploadID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.staged[uploadID]
	return ok, nil
}

// Delete removes the staging blob.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.staged, uploadID)
	s.mu.Unlock()
	return nil
}

// Promote moves the staging blob to the durable map.
func (s *Store) Promote(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.staged[uploadID]
	if !ok {
		return fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
	}
	s.durable[uploadID] = b
	delete(s.staged, uploadID)
	return nil
}

// ListStaged enumerates the staging blobs.
func (s *Store) ListStaged(ctx context.Context) ([]object.StagedUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	staged := make([]object.StagedUpload, 0, len(s.staged))
	for id, b := range s.staged {
		staged = append(staged, object.StagedUpload{
			UploadID:     id,
			Size:         int64(len(b.data)),
			LastModified: b.lastModified,
		})
	}
	return staged, nil
}

// Durable returns a copy of a committed payload, for tests.
func (s *Store) Durable(uploadID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.durable[uploadID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

// SetLastModified backdates a staging blob, for reaper tests.
func (s *Store) SetLastModified(uploadID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.staged[uploadID]; ok {
		b.lastModified = t
	}
}
