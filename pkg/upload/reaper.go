package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/sensorsink/internal/logger"
	"github.com/marmos91/sensorsink/pkg/store/object"
)

// ReaperMetrics receives reaper observations; nil disables collection.
type ReaperMetrics interface {
	// Reaped records one sweep: how many staged uploads were deleted and
	// how many bytes they held.
	Reaped(uploads int, bytes int64)
}

// Reaper periodically deletes staging blobs whose last append is older
// than the configured expiration. It operates on the object store only:
// committed payloads live in the durable area and are out of its reach,
// and the metadata catalog is never consulted.
//
// A session still referring to a reaped upload id recovers on its next
// probe, which observes the missing blob and resets to a fresh start.
type Reaper struct {
	objects    object.Store
	expiration time.Duration
	interval   time.Duration
	metrics    ReaperMetrics
}

// NewReaper creates a reaper sweeping every interval, deleting staged
// uploads older than expiration. metrics may be nil.
func NewReaper(objects object.Store, expiration, interval time.Duration, metrics ReaperMetrics) *Reaper {
	if interval <= 0 {
		interval = expiration
	}
	return &Reaper{
		objects:    objects,
		expiration: expiration,
		interval:   interval,
		metrics:    metrics,
	}
}

// Run sweeps until the context is cancelled. The first sweep happens after
// one full interval so a restart does not immediately race in-flight
// uploads.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info("reaper started",
		"interval", r.interval.String(),
		"expiration", r.expiration.String(),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes every staged upload older than the expiration once.
func (r *Reaper) Sweep(ctx context.Context) error {
	staged, err := r.objects.ListStaged(ctx)
	if err != nil {
		return fmt.Errorf("listing staged uploads: %w", err)
	}

	cutoff := time.Now().Add(-r.expiration)
	var (
		deleted int
		bytes   int64
	)
	for _, u := range staged {
		if u.LastModified.After(cutoff) {
			continue
		}
		if err := r.objects.Delete(ctx, u.UploadID); err != nil {
			logger.Warn("deleting expired upload", "upload_id", u.UploadID, "error", err)
			continue
		}
		deleted++
		bytes += u.Size
		logger.Debug("expired upload deleted",
			"upload_id", u.UploadID,
			"bytes", u.Size,
			"last_modified", u.LastModified,
		)
	}

	if deleted > 0 {
		logger.Info("reaper sweep finished", "deleted", deleted, "bytes", bytes)
	}
	if r.metrics != nil {
		r.metrics.Reaped(deleted, bytes)
	}
	return nil
}
