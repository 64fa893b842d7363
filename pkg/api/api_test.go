package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/sensorsink/pkg/api"
	"github.com/marmos91/sensorsink/pkg/api/auth"
	catalogmem "github.com/marmos91/sensorsink/pkg/store/catalog/memory"
	objectmem "github.com/marmos91/sensorsink/pkg/store/object/memory"
	"github.com/marmos91/sensorsink/pkg/upload"
	sessionmem "github.com/marmos91/sensorsink/pkg/upload/sessionstore/memory"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testDeviceID = "d329c6ec-2764-44b1-b56a-9e3506508424"
	testLimit    = 1 << 20
)

type testAPI struct {
	handler http.Handler
	token   string
	objects *objectmem.Store
	docs    *catalogmem.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	token, err := jwtService.GenerateToken("user-1")
	require.NoError(t, err)

	objects := objectmem.New()
	docs := catalogmem.New()
	svc := upload.NewService(
		upload.Config{PayloadLimit: testLimit},
		sessionmem.New(), objects, docs, nil,
	)

	return &testAPI{
		handler: api.NewRouter("/api/v3", svc, jwtService),
		token:   token,
		objects: objects,
		docs:    docs,
	}
}

// metadata returns the JSON-shaped fields a capture device announces.
func metadata() map[string]string {
	return map[string]string{
		"deviceId":      testDeviceID,
		"measurementId": "1",
		"deviceType":    "tracker-x2",
		"osVersion":     "14.1",
		"appVersion":    "3.2.0",
		"modality":      "bicycle",
		"length":        "1523.4",
		"locationCount": "172",
		"formatVersion": "2",
		"startLocLat":   "52.5200",
		"startLocLon":   "13.4050",
		"startLocTS":    "1721980800000",
		"endLocLat":     "52.5310",
		"endLocLon":     "13.3840",
		"endLocTS":      "1721984400000",
	}
}

func (a *testAPI) preRequest(t *testing.T, meta map[string]string, size string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(meta)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "http://sink.example.com/api/v3/measurements", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-upload-content-length", size)
	for _, m := range mutate {
		m(req)
	}

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func (a *testAPI) put(t *testing.T, sessionID string, meta map[string]string, contentRange, body string) *httptest.ResponseRecorder {
	t.Helper()
	url := fmt.Sprintf("http://sink.example.com/api/v3/measurements/(%s)/", sessionID)
	req := httptest.NewRequest(http.MethodPut, url, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Range", contentRange)
	for k, v := range meta {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

// sessionFromLocation extracts the id between the literal parentheses.
func sessionFromLocation(t *testing.T, location string) string {
	t.Helper()
	open := strings.Index(location, "(")
	close := strings.LastIndex(location, ")")
	require.True(t, open >= 0 && close > open, "location %q", location)
	return location[open+1 : close]
}

func TestPreRequestLocation(t *testing.T) {
	a := newTestAPI(t)

	w := a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	location := w.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "http://sink.example.com/api/v3/measurements/("), location)
	assert.True(t, strings.HasSuffix(location, ")/"), location)
	assert.Equal(t, "0", w.Header().Get("Content-Length"))

	// The session rides back as a cookie too.
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "upload-session", cookies[0].Name)
	assert.Equal(t, sessionFromLocation(t, location), cookies[0].Value)
}

func TestPreRequestLocationBehindProxy(t *testing.T) {
	a := newTestAPI(t)

	w := a.preRequest(t, metadata(), "100", func(r *http.Request) {
		r.URL.RawQuery = "uploadType=resumable"
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	require.Equal(t, http.StatusOK, w.Code)

	location := w.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://sink.example.com/api/v3/measurements/("), location)
	assert.NotContains(t, location, "uploadType")
}

func TestSingleChunkUpload(t *testing.T) {
	a := newTestAPI(t)

	w := a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code)
	sid := sessionFromLocation(t, w.Header().Get("Location"))

	w = a.put(t, sid, metadata(), "bytes 0-99/100", strings.Repeat("x", 100))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Committed exactly once.
	require.Len(t, a.docs.Docs(), 1)
	assert.Equal(t, "user-1", a.docs.Docs()[0].Metadata.UserID)

	// Announcing the same measurement again conflicts.
	w = a.preRequest(t, metadata(), "100")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestChunkedUploadWithProbe(t *testing.T) {
	a := newTestAPI(t)

	w := a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code)
	sid := sessionFromLocation(t, w.Header().Get("Location"))

	w = a.put(t, sid, metadata(), "bytes 0-49/100", strings.Repeat("a", 50))
	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.Equal(t, "bytes=0-49", w.Header().Get("Range"))

	// Connection dropped; the client probes before resuming.
	w = a.put(t, sid, metadata(), "bytes */100", "")
	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.Equal(t, "bytes=0-49", w.Header().Get("Range"))

	w = a.put(t, sid, metadata(), "bytes 50-99/100", strings.Repeat("b", 50))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestProbeFreshSessionHasNoRange(t *testing.T) {
	a := newTestAPI(t)

	w := a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code)
	sid := sessionFromLocation(t, w.Header().Get("Location"))

	w = a.put(t, sid, metadata(), "bytes */100", "")
	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.Empty(t, w.Header().Get("Range"))
}

func TestProbeCompletedMeasurement(t *testing.T) {
	a := newTestAPI(t)

	// Two sessions announce the same measurement; the first completes.
	w := a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code)
	sid1 := sessionFromLocation(t, w.Header().Get("Location"))

	w = a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code)
	sid2 := sessionFromLocation(t, w.Header().Get("Location"))

	w = a.put(t, sid1, metadata(), "bytes 0-99/100", strings.Repeat("x", 100))
	require.Equal(t, http.StatusCreated, w.Code)

	// The second session learns on probe that nothing is left to send.
	w = a.put(t, sid2, metadata(), "bytes */100", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOutOfOrderChunkReturnsAuthoritativeRange(t *testing.T) {
	a := newTestAPI(t)

	w := a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code)
	sid := sessionFromLocation(t, w.Header().Get("Location"))

	w = a.put(t, sid, metadata(), "bytes 0-49/100", strings.Repeat("a", 50))
	require.Equal(t, http.StatusPermanentRedirect, w.Code)

	// The same chunk retransmitted: acknowledged without re-appending.
	w = a.put(t, sid, metadata(), "bytes 0-49/100", strings.Repeat("a", 50))
	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.Equal(t, "bytes=0-49", w.Header().Get("Range"))
}

func TestUploadRefusals(t *testing.T) {
	a := newTestAPI(t)

	t.Run("WrongFormatVersion", func(t *testing.T) {
		meta := metadata()
		meta["formatVersion"] = "1"
		w := a.preRequest(t, meta, "100")
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})

	t.Run("TooFewLocations", func(t *testing.T) {
		meta := metadata()
		meta["locationCount"] = "1"
		w := a.preRequest(t, meta, "100")
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})
}

func TestPreRequestClientErrors(t *testing.T) {
	a := newTestAPI(t)

	t.Run("InvalidMetadata", func(t *testing.T) {
		meta := metadata()
		meta["deviceId"] = "not-a-uuid"
		w := a.preRequest(t, meta, "100")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("UnparsableSize", func(t *testing.T) {
		w := a.preRequest(t, metadata(), "one hundred")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("DeclaredSizeAboveLimit", func(t *testing.T) {
		w := a.preRequest(t, metadata(), fmt.Sprint(testLimit+1))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("BrokenJSONBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "http://sink.example.com/api/v3/measurements", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+a.token)
		req.Header.Set("x-upload-content-length", "100")
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("BoundSessionCookie", func(t *testing.T) {
		w := a.preRequest(t, metadata(), "100")
		require.Equal(t, http.StatusOK, w.Code)
		sid := sessionFromLocation(t, w.Header().Get("Location"))

		meta := metadata()
		meta["measurementId"] = "2"
		w = a.preRequest(t, meta, "100", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "upload-session", Value: sid})
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestUploadClientErrors(t *testing.T) {
	a := newTestAPI(t)

	w := a.preRequest(t, metadata(), "100")
	require.Equal(t, http.StatusOK, w.Code)
	sid := sessionFromLocation(t, w.Header().Get("Location"))

	t.Run("UnknownSession", func(t *testing.T) {
		w := a.put(t, "expired-session", metadata(), "bytes 0-99/100", strings.Repeat("x", 100))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("MalformedContentRange", func(t *testing.T) {
		w := a.put(t, sid, metadata(), "bytes 99-0/100", strings.Repeat("x", 100))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("BodySizeMismatch", func(t *testing.T) {
		w := a.put(t, sid, metadata(), "bytes 0-99/100", strings.Repeat("x", 50))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("IdentifierMismatch", func(t *testing.T) {
		meta := metadata()
		meta["measurementId"] = "99"
		w := a.put(t, sid, meta, "bytes 0-99/100", strings.Repeat("x", 100))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestAuthentication(t *testing.T) {
	a := newTestAPI(t)

	body, err := json.Marshal(metadata())
	require.NoError(t, err)

	t.Run("MissingToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "http://sink.example.com/api/v3/measurements", bytes.NewReader(body))
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("GarbageToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "http://sink.example.com/api/v3/measurements", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("HealthIsOpen", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://sink.example.com/health", nil)
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestProblemResponsesAreRFC7807(t *testing.T) {
	a := newTestAPI(t)

	meta := metadata()
	meta["formatVersion"] = "1"
	w := a.preRequest(t, meta, "100")
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusPreconditionFailed, problem.Status)
	assert.NotEmpty(t, problem.Title)
}
