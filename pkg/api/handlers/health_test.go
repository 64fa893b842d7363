package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness(t *testing.T) {
	h := NewHealthHandler()

	w := httptest.NewRecorder()
	h.Liveness(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "sensorsink", resp.Service)
}

func TestReadiness(t *testing.T) {
	t.Run("AllChecksPass", func(t *testing.T) {
		h := NewHealthHandler(
			Check{Name: "mongo", Probe: func(ctx context.Context) error { return nil }},
			Check{Name: "object_store", Probe: func(ctx context.Context) error { return nil }},
		)

		w := httptest.NewRecorder()
		h.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, map[string]string{"mongo": "ok", "object_store": "ok"}, resp.Checks)
	})

	t.Run("FailingCheck", func(t *testing.T) {
		h := NewHealthHandler(
			Check{Name: "mongo", Probe: func(ctx context.Context) error { return errors.New("connection refused") }},
			Check{Name: "object_store", Probe: func(ctx context.Context) error { return nil }},
		)

		w := httptest.NewRecorder()
		h.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["mongo"])
		assert.Equal(t, "ok", resp.Checks["object_store"])
	})
}
