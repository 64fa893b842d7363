// Package fs implements the object store on a local directory. Appends use
// O_APPEND directly, so no tmp blob or compose step is needed. Layout:
//
//	<root>/staging/<uploadId>/data   accumulating payload
//	<root>/measurements/<uploadId>   committed payload
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/sensorsink/pkg/store/object"
)

const (
	stagingDir = "staging"
	durableDir = "measurements"
	dataFile   = "data"
)

// Store is a filesystem-backed object store rooted at one directory.
type Store struct {
	root string
}

// New creates the store and its directory layout under root.
func New(root string) (*Store, error) {
	for _, dir := range []string{stagingDir, durableDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) stagingPath(uploadID string) string {
	return filepath.Join(s.root, stagingDir, uploadID, dataFile)
}

func (s *Store) durablePath(uploadID string) string {
	return filepath.Join(s.root, durableDir, uploadID)
}

// Append opens the staging file with O_APPEND and streams r into it.
func (s *Store) Append(ctx context.Context, uploadID string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_ = size // O_APPEND needs no length hint

	path := s.stagingPath(uploadID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating upload directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening staging file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("appending to %s: %w", uploadID, err)
	}
	return n, nil
}

// BytesUploaded returns the staging file size.
func (s *Store) BytesUploaded(ctx context.Context, uploadID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.stagingPath(uploadID))
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
	}
	if err != nil {
		return 0, fmt.Errorf("stat staging file: %w", err)
	}
	return info.Size(), nil
}

// Exists reports whether the staging file exists.
func (s *Store) Exists(ctx context.Context, uploadID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(s.stagingPath(uploadID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the whole staging directory of the upload.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, stagingDir, uploadID))
}

// Promote renames the staging file into the durable directory.
func (s *Store) Promote(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src := s.stagingPath(uploadID)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
	}
	if err := os.Rename(src, s.durablePath(uploadID)); err != nil {
		return fmt.Errorf("promoting %s: %w", uploadID, err)
	}
	return os.RemoveAll(filepath.Join(s.root, stagingDir, uploadID))
}

// ListStaged walks the staging directory.
func (s *Store) ListStaged(ctx context.Context) ([]object.StagedUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, stagingDir))
	if err != nil {
		return nil, fmt.Errorf("reading staging directory: %w", err)
	}

	var staged []object.StagedUpload
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := os.Stat(s.stagingPath(entry.Name()))
		if errors.Is(err, os.ErrNotExist) {
			// Directory without a data file: an upload interrupted before
			// its first byte. Use the directory mtime so the reaper only
			// removes it once it is genuinely stale.
			dirInfo, derr := entry.Info()
			if derr != nil {
				return nil, derr
			}
			staged = append(staged, object.StagedUpload{
				UploadID:     entry.Name(),
				LastModified: dirInfo.ModTime(),
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		staged = append(staged, object.StagedUpload{
			UploadID:     entry.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return staged, nil
}
