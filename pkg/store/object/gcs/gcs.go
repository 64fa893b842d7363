// Package gcs implements the object store on Google Cloud Storage.
//
// GCS blobs are immutable, so appends are emulated: each chunk is written
// to a sibling tmp blob and server-side composed onto the data blob.
// Layout:
//
//	staging/<uploadId>/data   accumulating payload
//	staging/<uploadId>/tmp    last chunk, transient
//	measurements/<uploadId>   committed payload
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/marmos91/sensorsink/internal/logger"
	"github.com/marmos91/sensorsink/pkg/bufpool"
	"github.com/marmos91/sensorsink/pkg/store/object"
)

const (
	stagingPrefix = "staging/"
	durablePrefix = "measurements/"
	dataSuffix    = "/data"
	tmpSuffix     = "/tmp"
)

// Store is a GCS-backed object store scoped to one bucket.
type Store struct {
	bucket *storage.BucketHandle
}

// New creates a store over the given bucket. The bucket must exist; its
// attributes are fetched once to fail fast on access problems.
func New(ctx context.Context, client *storage.Client, bucket string) (*Store, error) {
	handle := client.Bucket(bucket)
	if _, err := handle.Attrs(ctx); err != nil {
		return nil, fmt.Errorf("accessing bucket %q: %w", bucket, err)
	}
	return &Store{bucket: handle}, nil
}

func dataKey(uploadID string) string { return stagingPrefix + uploadID + dataSuffix }
func tmpKey(uploadID string) string  { return stagingPrefix + uploadID + tmpSuffix }
func durableKey(uploadID string) string {
	return durablePrefix + uploadID
}

// Append writes r to the tmp blob and composes (data, tmp) into data. The
// tmp delete at the end is best effort: the next append overwrites tmp
// anyway, and the reaper removes leftovers.
func (s *Store) Append(ctx context.Context, uploadID string, r io.Reader, size int64) (int64, error) {
	tmp := s.bucket.Object(tmpKey(uploadID))
	data := s.bucket.Object(dataKey(uploadID))

	w := tmp.NewWriter(ctx)
	if size > 0 {
		// Sizes at or below the chunk hint avoid the resumable protocol
		// and its buffer for small chunks.
		w.ChunkSize = int(min(size, 512*1024))
	}
	buf := bufpool.Get(bufpool.DefaultLargeSize)
	n, err := io.CopyBuffer(w, r, buf)
	bufpool.Put(buf)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("writing tmp blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("finishing tmp blob: %w", err)
	}

	_, err = data.Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		// First chunk: the tmp blob becomes the data blob.
		if _, err := data.ComposerFrom(tmp).Run(ctx); err != nil {
			return n, fmt.Errorf("creating data blob: %w", err)
		}
	case err != nil:
		return n, fmt.Errorf("checking data blob: %w", err)
	default:
		if _, err := data.ComposerFrom(data, tmp).Run(ctx); err != nil {
			return n, fmt.Errorf("composing data blob: %w", err)
		}
	}

	if err := tmp.Delete(ctx); err != nil {
		logger.Debug("tmp blob delete failed", "upload_id", uploadID, "error", err)
	}
	return n, nil
}

// BytesUploaded returns the data blob size.
func (s *Store) BytesUploaded(ctx context.Context, uploadID string) (int64, error) {
	attrs, err := s.bucket.Object(dataKey(uploadID)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
	}
	if err != nil {
		return 0, fmt.Errorf("reading data blob attrs: %w", err)
	}
	return attrs.Size, nil
}

// Exists reports whether the data blob exists.
func (s *Store) Exists(ctx context.Context, uploadID string) (bool, error) {
	_, err := s.bucket.Object(dataKey(uploadID)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes tmp and data if present.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	for _, key := range []string{tmpKey(uploadID), dataKey(uploadID)} {
		err := s.bucket.Object(key).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

// Promote server-side copies the data blob to the durable key and removes
// the staging pair.
func (s *Store) Promote(ctx context.Context, uploadID string) error {
	src := s.bucket.Object(dataKey(uploadID))
	dst := s.bucket.Object(durableKey(uploadID))

	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
		}
		return fmt.Errorf("copying %s to durable area: %w", uploadID, err)
	}
	return s.Delete(ctx, uploadID)
}

// ListStaged enumerates the staging prefix, keyed by upload id. The tmp
// and data blobs of one upload collapse into one entry carrying the data
// size and the most recent update time.
func (s *Store) ListStaged(ctx context.Context) ([]object.StagedUpload, error) {
	byID := make(map[string]*object.StagedUpload)

	it := s.bucket.Objects(ctx, &storage.Query{Prefix: stagingPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing staging area: %w", err)
		}

		rest := strings.TrimPrefix(attrs.Name, stagingPrefix)
		id, _, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			continue
		}

		entry, found := byID[id]
		if !found {
			entry = &object.StagedUpload{UploadID: id}
			byID[id] = entry
		}
		if strings.HasSuffix(attrs.Name, dataSuffix) {
			entry.Size = attrs.Size
		}
		if attrs.Updated.After(entry.LastModified) {
			entry.LastModified = attrs.Updated
		}
	}

	staged := make([]object.StagedUpload, 0, len(byID))
	for _, entry := range byID {
		staged = append(staged, *entry)
	}
	return staged, nil
}
