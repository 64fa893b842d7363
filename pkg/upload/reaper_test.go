package upload_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objectmem "github.com/marmos91/sensorsink/pkg/store/object/memory"
	"github.com/marmos91/sensorsink/pkg/upload"
)

type captureReaperMetrics struct {
	uploads int
	bytes   int64
	sweeps  int
}

func (m *captureReaperMetrics) Reaped(uploads int, bytes int64) {
	m.sweeps++
	m.uploads += uploads
	m.bytes += bytes
}

func stage(t *testing.T, objects *objectmem.Store, uploadID string, size int) {
	t.Helper()
	_, err := objects.Append(context.Background(), uploadID,
		strings.NewReader(strings.Repeat("x", size)), int64(size))
	require.NoError(t, err)
}

func TestSweepDeletesOnlyExpired(t *testing.T) {
	objects := objectmem.New()
	metrics := &captureReaperMetrics{}

	stage(t, objects, "old", 60)
	stage(t, objects, "fresh", 40)
	objects.SetLastModified("old", time.Now().Add(-48*time.Hour))

	reaper := upload.NewReaper(objects, 24*time.Hour, time.Hour, metrics)
	require.NoError(t, reaper.Sweep(context.Background()))

	exists, err := objects.Exists(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = objects.Exists(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, 1, metrics.uploads)
	assert.Equal(t, int64(60), metrics.bytes)
}

func TestSweepLeavesCommittedPayloads(t *testing.T) {
	objects := objectmem.New()

	stage(t, objects, "done", 100)
	require.NoError(t, objects.Promote(context.Background(), "done"))
	stage(t, objects, "stale", 10)
	objects.SetLastModified("stale", time.Now().Add(-48*time.Hour))

	reaper := upload.NewReaper(objects, 24*time.Hour, time.Hour, nil)
	require.NoError(t, reaper.Sweep(context.Background()))

	// Committed payloads are out of the staging area and stay put.
	_, ok := objects.Durable("done")
	assert.True(t, ok)

	exists, err := objects.Exists(context.Background(), "stale")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSweepEmptyStore(t *testing.T) {
	metrics := &captureReaperMetrics{}
	reaper := upload.NewReaper(objectmem.New(), 24*time.Hour, time.Hour, metrics)
	require.NoError(t, reaper.Sweep(context.Background()))
	assert.Equal(t, 1, metrics.sweeps)
	assert.Zero(t, metrics.uploads)
}

func TestRunStopsOnCancel(t *testing.T) {
	reaper := upload.NewReaper(objectmem.New(), time.Hour, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on cancel")
	}
}
