// Package catalog defines the metadata document store contract: one
// document per completed upload, with uniqueness per (deviceId,
// measurementId) for measurements and per (deviceId, measurementId,
// attachmentId) for attachments.
package catalog

import (
	"context"
	"errors"

	"github.com/marmos91/sensorsink/pkg/model"
)

// ErrDuplicates is returned by existence checks that find more than one
// document for a key that must be unique. This is a fatal inconsistency
// and surfaces as a 500 to the client.
var ErrDuplicates = errors.New("duplicate documents for unique key")

// Store persists completed-upload metadata documents.
type Store interface {
	// Store inserts one document and returns its id. The unique indices
	// reject a second commit for the same measurement.
	Store(ctx context.Context, doc *model.CatalogDoc) (string, error)

	// Exists reports whether exactly one measurement document (no
	// attachmentId) exists for the pair. Zero matches is false; more than
	// one is ErrDuplicates.
	Exists(ctx context.Context, deviceID, measurementID string) (bool, error)

	// ExistsAttachment is the analogous check for attachment documents.
	ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error)

	// EnsureIndices idempotently creates the uniqueness and query indices.
	EnsureIndices(ctx context.Context) error
}
