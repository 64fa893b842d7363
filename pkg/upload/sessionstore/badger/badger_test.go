package badger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/sensorsink/pkg/upload"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateGetUpdateRemove(t *testing.T) {
	store := openStore(t)

	session, err := store.Create()
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	session.DeviceID = "device"
	session.MeasurementID = "7"
	session.UploadID = "blob"
	session.BytesReceived = 1024
	require.NoError(t, store.Update(session))

	got, err := store.Get(session.ID)
	require.NoError(t, err)
	assert.True(t, got.Bound())
	assert.Equal(t, "blob", got.UploadID)
	assert.Equal(t, int64(1024), got.BytesReceived)

	require.NoError(t, store.Remove(session.ID))
	_, err = store.Get(session.ID)
	assert.ErrorIs(t, err, upload.ErrSessionExpired)
}

func TestGetUnknown(t *testing.T) {
	store := openStore(t)
	_, err := store.Get("nope")
	assert.ErrorIs(t, err, upload.ErrSessionExpired)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, time.Hour)
	require.NoError(t, err)
	session, err := store.Create()
	require.NoError(t, err)
	session.DeviceID = "device"
	session.MeasurementID = "1"
	require.NoError(t, store.Update(session))
	require.NoError(t, store.Close())

	reopened, err := Open(dir, time.Hour)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(session.ID)
	require.NoError(t, err)
	assert.True(t, got.Bound())
}
