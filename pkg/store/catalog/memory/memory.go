// Package memory provides an in-memory catalog used by tests and local
// development. It enforces the same uniqueness as the MongoDB indices.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/sensorsink/pkg/model"
	"github.com/marmos91/sensorsink/pkg/store/catalog"
)

// Store keeps catalog documents in a mutex-guarded slice.
type Store struct {
	mu   sync.RWMutex
	docs []model.CatalogDoc
}

// New creates an empty in-memory catalog.
func New() *Store {
	return &Store{}
}

// Store inserts the document, rejecting duplicates of a unique key.
func (s *Store) Store(ctx context.Context, doc *model.CatalogDoc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.docs {
		if existing.Metadata.DeviceID == doc.Metadata.DeviceID &&
			existing.Metadata.MeasurementID == doc.Metadata.MeasurementID &&
			existing.Metadata.AttachmentID == doc.Metadata.AttachmentID {
			return "", fmt.Errorf("duplicate key: %s/%s", doc.Metadata.DeviceID, doc.Metadata.MeasurementID)
		}
	}

	stored := *doc
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	s.docs = append(s.docs, stored)
	return stored.ID, nil
}

// Exists counts measurement documents (no attachmentId) for the pair.
func (s *Store) Exists(ctx context.Context, deviceID, measurementID string) (bool, error) {
	return s.exists(ctx, deviceID, measurementID, "")
}

// ExistsAttachment counts attachment documents for the triple.
func (s *Store) ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error) {
	if attachmentID == "" {
		return false, nil
	}
	return s.exists(ctx, deviceID, measurementID, attachmentID)
}

func (s *Store) exists(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, doc := range s.docs {
		if doc.Metadata.DeviceID == deviceID &&
			doc.Metadata.MeasurementID == measurementID &&
			doc.Metadata.AttachmentID == attachmentID {
			n++
		}
	}
	if n > 1 {
		return true, fmt.Errorf("%w: %s/%s", catalog.ErrDuplicates, deviceID, measurementID)
	}
	return n == 1, nil
}

// EnsureIndices is a no-op; uniqueness is checked on insert.
func (s *Store) EnsureIndices(ctx context.Context) error {
	return ctx.Err()
}

// Docs returns a snapshot of the stored documents, for tests.
func (s *Store) Docs() []model.CatalogDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CatalogDoc(nil), s.docs...)
}

// Inject inserts a document bypassing uniqueness, for duplicate tests.
func (s *Store) Inject(doc model.CatalogDoc) {
	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()
}

var _ catalog.Store = (*Store)(nil)
