package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/sensorsink/internal/logger"
	"github.com/marmos91/sensorsink/pkg/api/middleware"
	"github.com/marmos91/sensorsink/pkg/model"
	"github.com/marmos91/sensorsink/pkg/upload"
)

// SessionCookieName is the cookie under which a client may present an
// existing upload session on the pre-request.
const SessionCookieName = "upload-session"

// MeasurementsHandler serves the two-phase resumable upload protocol:
// a pre-request announcing the measurement, then one or more chunk
// uploads against the session returned in the Location header.
type MeasurementsHandler struct {
	svc *upload.Service
}

// NewMeasurementsHandler creates the handler around the upload service.
func NewMeasurementsHandler(svc *upload.Service) *MeasurementsHandler {
	return &MeasurementsHandler{svc: svc}
}

// PreRequest handles POST /measurements.
//
// The metadata arrives as the JSON body, the total upload size as the
// x-upload-content-length header. On success the response carries the
// upload URL in the Location header and an empty body.
func (h *MeasurementsHandler) PreRequest(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r)
	declaredSize := r.Header.Get("x-upload-content-length")

	var req model.MetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		UnprocessableEntity(w, "request body is not valid JSON")
		return
	}

	presented := ""
	if c, err := r.Cookie(SessionCookieName); err == nil {
		presented = c.Value
	}

	res, err := h.svc.PreRequest(r.Context(), userID, &req, declaredSize, presented)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    res.SessionID,
		Path:     "/",
		HttpOnly: true,
	})
	w.Header().Set("Location", uploadLocation(r, res.SessionID))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

// Upload handles PUT /measurements/({sessionID})/.
//
// The request is either a zero-body status probe ("Content-Range:
// bytes */<total>") or a chunk upload ("bytes <from>-<to>/<total>") whose
// body carries exactly the announced range. Metadata identifying the
// measurement arrives as request headers on every call.
func (h *MeasurementsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := userFromContext(r)
	req := metadataFromHeaders(r.Header)
	rangeHeader := r.Header.Get("Content-Range")

	if strings.HasPrefix(rangeHeader, "bytes */") {
		if _, err := upload.ParseStatusRange(rangeHeader); err != nil {
			writeUploadError(w, err)
			return
		}
		if r.ContentLength != 0 {
			UnprocessableEntity(w, "status probe must have an empty body")
			return
		}

		res, err := h.svc.Probe(r.Context(), sessionID, req)
		if err != nil {
			writeUploadError(w, err)
			return
		}
		if res.Complete {
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
			return
		}
		writeResumeIncomplete(w, res.Received)
		return
	}

	cr, err := upload.ParseContentRange(rangeHeader)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	if r.ContentLength >= 0 && cr.Size() != r.ContentLength {
		UnprocessableEntity(w, fmt.Sprintf(
			"content range announces %d bytes, body carries %d", cr.Size(), r.ContentLength))
		return
	}

	res, err := h.svc.Chunk(r.Context(), sessionID, userID, req, cr, r.Body)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	switch res.Status {
	case upload.ChunkCompleted:
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusCreated)
	case upload.ChunkRestart:
		NotFound(w, "no bytes stored for this session, restart with a new pre-request")
	default:
		// ChunkIncomplete and ChunkResend both answer with the
		// authoritative received range.
		writeResumeIncomplete(w, res.Received)
	}
}

// uploadLocation builds the Location URL for an accepted pre-request: the
// incoming request URL with any trailing "?uploadType=resumable" query
// stripped, the scheme substituted from X-Forwarded-Proto when a proxy
// set it, and "/(<sessionID>)/" appended.
func uploadLocation(r *http.Request, sessionID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	target := r.Host + r.URL.RequestURI()
	target = strings.TrimSuffix(target, "?uploadType=resumable")
	return fmt.Sprintf("%s://%s/(%s)/", scheme, target, sessionID)
}

// writeResumeIncomplete answers 308 Resume Incomplete. The Range header
// names the bytes already stored and is omitted when nothing is.
func writeResumeIncomplete(w http.ResponseWriter, received int64) {
	if received > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", received-1))
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusPermanentRedirect)
}

// metadataFromHeaders collects the measurement metadata spread over the
// upload request headers. Header lookup is case-insensitive, so the JSON
// field names double as header names.
func metadataFromHeaders(h http.Header) *model.MetadataRequest {
	field := func(name string) model.Field { return model.Field(h.Get(name)) }
	return &model.MetadataRequest{
		DeviceID:      field("deviceId"),
		MeasurementID: field("measurementId"),
		DeviceType:    field("deviceType"),
		OSVersion:     field("osVersion"),
		AppVersion:    field("appVersion"),
		Modality:      field("modality"),
		Length:        field("length"),
		LocationCount: field("locationCount"),
		FormatVersion: field("formatVersion"),
		StartLocLat:   field("startLocLat"),
		StartLocLon:   field("startLocLon"),
		StartLocTS:    field("startLocTS"),
		EndLocLat:     field("endLocLat"),
		EndLocLon:     field("endLocLon"),
		EndLocTS:      field("endLocTS"),
		AttachmentID:  field("attachmentId"),
	}
}

// userFromContext returns the authenticated user id, or the empty string
// when the route runs without authentication (tests).
func userFromContext(r *http.Request) string {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.User()
}

// writeUploadError maps a service error kind to its protocol status code.
func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrSessionExpired):
		NotFound(w, "upload session expired, restart with a new pre-request")
	case errors.Is(err, upload.ErrConflict):
		Conflict(w, "measurement already uploaded")
	case errors.Is(err, upload.ErrSkipUpload):
		PreconditionFailed(w, "upload refused, do not retry")
	case errors.Is(err, upload.ErrUnparsable),
		errors.Is(err, upload.ErrInvalidMetadata),
		errors.Is(err, upload.ErrIllegalSession),
		errors.Is(err, upload.ErrPayloadTooLarge):
		UnprocessableEntity(w, err.Error())
	default:
		logger.Error("upload request failed", "error", err)
		InternalServerError(w, "upload failed")
	}
}
