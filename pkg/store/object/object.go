// Package object defines the object-store contract used by the upload
// pipeline: append-style writes into a staging area, promotion of a
// finished payload into the durable area, and the staging inventory the
// reaper walks.
package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no blob exists for an upload id.
var ErrNotFound = errors.New("object not found")

// StagedUpload describes one staging blob for the reaper.
type StagedUpload struct {
	// UploadID names the blob pair <uploadId>/data, <uploadId>/tmp.
	UploadID string

	// Size of the data blob in bytes.
	Size int64

	// LastModified is the time of the last accepted append.
	LastModified time.Time
}

// Store persists upload payloads.
//
// A payload accumulates under the staging key <uploadId>/data via Append;
// Promote moves the finished payload to the durable area as part of the
// commit. Writes for one uploadId are serialized by the upload state
// machine; implementations only need to isolate distinct uploadIds.
type Store interface {
	// Append streams r to the end of the staging data blob for uploadId,
	// creating it if absent. size is the expected number of bytes and lets
	// backends that must know the length up front avoid buffering. The
	// returned count is the number of bytes consumed from r.
	//
	// Backends over immutable blob stores emulate the append by writing r
	// to a sibling tmp blob and server-side compositing (data, tmp) into
	// data. Deleting tmp afterwards is best effort: a leftover tmp is
	// overwritten by the next append and reclaimed by the reaper.
	Append(ctx context.Context, uploadID string, r io.Reader, size int64) (int64, error)

	// BytesUploaded returns the current staging data blob size. It
	// reflects every previously acknowledged Append. ErrNotFound if no
	// blob exists.
	BytesUploaded(ctx context.Context, uploadID string) (int64, error)

	// Exists reports whether the staging data blob exists.
	Exists(ctx context.Context, uploadID string) (bool, error)

	// Delete removes the staging data and tmp blobs if present. Deleting
	// an absent upload is not an error.
	Delete(ctx context.Context, uploadID string) error

	// Promote moves the staging data blob into the durable area, keyed by
	// the same uploadId. After Promote the staging pair is gone and the
	// reaper can no longer touch the payload.
	Promote(ctx context.Context, uploadID string) error

	// ListStaged enumerates the staging area for the reaper.
	ListStaged(ctx context.Context) ([]StagedUpload, error)
}
