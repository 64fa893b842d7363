// Package upload implements the resumable upload protocol: the two-phase
// pre-request/upload state machine, header validation, the session
// contract and the staging-blob reaper.
//
// The package models protocol outcomes as values (ProbeResult,
// ChunkResult) and error kinds as sentinels; mapping to HTTP status codes
// happens at the API boundary.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/sensorsink/internal/logger"
	"github.com/marmos91/sensorsink/pkg/model"
	"github.com/marmos91/sensorsink/pkg/store/catalog"
	"github.com/marmos91/sensorsink/pkg/store/object"
)

// Metrics receives upload outcome observations. Implementations must be
// safe for concurrent use; a nil Metrics disables collection.
type Metrics interface {
	// PreRequest records one pre-request with its outcome label
	// ("accepted", "conflict", "refused", "invalid", "error").
	PreRequest(outcome string)

	// ChunkBytes records the size of one acknowledged chunk.
	ChunkBytes(n int64)

	// Completed records one fully committed upload of the given size.
	Completed(totalBytes int64)
}

// Config carries the tunables of the upload service.
type Config struct {
	// PayloadLimit caps both the declared total size and any single
	// chunk, in bytes.
	PayloadLimit int64
}

// Service drives the resumable upload state machine against the session
// store, the object store and the metadata catalog.
type Service struct {
	sessions SessionStore
	objects  object.Store
	docs     catalog.Store
	limit    int64
	metrics  Metrics
}

// NewService wires the upload service. metrics may be nil.
func NewService(cfg Config, sessions SessionStore, objects object.Store, docs catalog.Store, metrics Metrics) *Service {
	return &Service{
		sessions: sessions,
		objects:  objects,
		docs:     docs,
		limit:    cfg.PayloadLimit,
		metrics:  metrics,
	}
}

// PreRequestResult is the outcome of an accepted pre-request.
type PreRequestResult struct {
	// SessionID is the fresh session bound to the measurement; the API
	// layer embeds it in the Location URL.
	SessionID string
}

// PreRequest validates the announced upload and allocates a bound session.
//
// presentedSessionID is the session the client presented with the request,
// if any; presenting a session that is already bound is a client bug
// (ErrIllegalSession). A measurement that is already committed yields
// ErrConflict without allocating anything.
func (s *Service) PreRequest(ctx context.Context, userID string, req *model.MetadataRequest, declaredSize string, presentedSessionID string) (*PreRequestResult, error) {
	if _, err := ParseDeclaredSize(declaredSize, s.limit); err != nil {
		s.observePreRequest(err)
		return nil, err
	}

	meta, err := ValidateMetadata(req)
	if err != nil {
		s.observePreRequest(err)
		return nil, err
	}

	if presentedSessionID != "" {
		if prev, err := s.sessions.Get(presentedSessionID); err == nil && prev.Bound() {
			s.observePreRequest(ErrIllegalSession)
			return nil, fmt.Errorf("%w: pre-request on bound session %s", ErrIllegalSession, presentedSessionID)
		}
	}

	exists, err := s.measurementExists(ctx, meta)
	if err != nil {
		s.observePreRequest(err)
		return nil, err
	}
	if exists {
		s.observePreRequest(ErrConflict)
		return nil, fmt.Errorf("%w: device %s measurement %s", ErrConflict, meta.DeviceID, meta.MeasurementID)
	}

	session, err := s.sessions.Create()
	if err != nil {
		s.observePreRequest(err)
		return nil, fmt.Errorf("creating session: %w", err)
	}
	session.DeviceID = meta.DeviceID
	session.MeasurementID = meta.MeasurementID
	session.AttachmentID = meta.AttachmentID
	session.LastTouched = time.Now().UTC()
	if err := s.sessions.Update(session); err != nil {
		s.observePreRequest(err)
		return nil, fmt.Errorf("binding session: %w", err)
	}

	logger.Debug("upload session bound",
		"session_id", session.ID,
		"device_id", meta.DeviceID,
		"measurement_id", meta.MeasurementID,
		"user_id", userID,
	)
	if s.metrics != nil {
		s.metrics.PreRequest("accepted")
	}
	return &PreRequestResult{SessionID: session.ID}, nil
}

// ProbeResult tells a returning client where to resume.
type ProbeResult struct {
	// Complete means the measurement is already committed; no upload is
	// needed.
	Complete bool

	// Received is the number of bytes the server holds for this session.
	Received int64
}

// Probe answers a zero-body status probe ("bytes */<total>").
//
// A recorded upload identifier whose blob has vanished (reaped) is cleared
// from the session so the client starts over from byte zero.
func (s *Service) Probe(ctx context.Context, sessionID string, req *model.MetadataRequest) (*ProbeResult, error) {
	session, meta, err := s.boundSession(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}

	exists, err := s.measurementExists(ctx, meta)
	if err != nil {
		return nil, err
	}
	if exists {
		return &ProbeResult{Complete: true}, nil
	}

	if session.UploadID == "" {
		return &ProbeResult{}, nil
	}

	n, err := s.objects.BytesUploaded(ctx, session.UploadID)
	if errors.Is(err, object.ErrNotFound) {
		// Reaped since the last chunk; reset to a fresh start.
		session.UploadID = ""
		session.BytesReceived = 0
		if err := s.sessions.Update(session); err != nil {
			return nil, fmt.Errorf("resetting session: %w", err)
		}
		return &ProbeResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob size: %w", err)
	}

	session.BytesReceived = n
	session.LastTouched = time.Now().UTC()
	if err := s.sessions.Update(session); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}
	return &ProbeResult{Received: n}, nil
}

// ChunkStatus is the protocol outcome of one chunk upload.
type ChunkStatus int

const (
	// ChunkIncomplete acknowledges the chunk; more bytes are expected.
	// Maps to 308 with a Range header.
	ChunkIncomplete ChunkStatus = iota

	// ChunkCompleted means the final chunk landed and metadata is
	// committed. Maps to 201.
	ChunkCompleted

	// ChunkRestart means the server holds nothing for this session and
	// the client sent a non-zero offset; it must restart with a new
	// pre-request. Maps to 404.
	ChunkRestart

	// ChunkResend means the offset does not continue the stored bytes;
	// the client must resume from Received. Maps to 308 with the
	// authoritative Range, without touching the blob.
	ChunkResend
)

// ChunkResult is the outcome of Chunk.
type ChunkResult struct {
	Status ChunkStatus

	// Received is the authoritative byte count after the operation.
	Received int64
}

// Chunk streams one contiguous byte range into the object store and, on
// the final range, commits the metadata document.
//
// The body is consumed at the pace of the object store; nothing beyond the
// backend's buffer is held in memory. Writes for one session are
// serialized by the offset precondition: a duplicate or out-of-order
// chunk yields ChunkResend with the authoritative count and the blob
// untouched.
func (s *Service) Chunk(ctx context.Context, sessionID, userID string, req *model.MetadataRequest, cr ContentRange, body io.Reader) (*ChunkResult, error) {
	session, meta, err := s.boundSession(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}

	if cr.Total > s.limit || cr.Size() > s.limit {
		// The announced upload can never be accepted; reclaim everything
		// so the client starts a fresh, smaller one.
		s.discard(ctx, session)
		return nil, fmt.Errorf("%w: %d bytes announced, limit %d", ErrPayloadTooLarge, cr.Total, s.limit)
	}

	for {
		if session.UploadID == "" {
			if cr.From != 0 {
				return &ChunkResult{Status: ChunkRestart}, nil
			}
			session.UploadID = uuid.NewString()
			session.LastTouched = time.Now().UTC()
			if err := s.sessions.Update(session); err != nil {
				return nil, fmt.Errorf("recording upload id: %w", err)
			}
			break
		}

		n, err := s.objects.BytesUploaded(ctx, session.UploadID)
		if errors.Is(err, object.ErrNotFound) {
			// Blob reaped under a live session; forget it and re-dispatch
			// as a first chunk.
			session.UploadID = ""
			session.BytesReceived = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading blob size: %w", err)
		}
		if cr.From != n {
			return &ChunkResult{Status: ChunkResend, Received: n}, nil
		}
		break
	}

	return s.stream(ctx, session, userID, meta, cr, body)
}

// stream appends the body, verifies the resulting size and finishes the
// upload when the range announced the last byte.
func (s *Service) stream(ctx context.Context, session *Session, userID string, meta *model.Metadata, cr ContentRange, body io.Reader) (*ChunkResult, error) {
	written, err := s.objects.Append(ctx, session.UploadID, io.LimitReader(body, cr.Size()), cr.Size())
	if err != nil {
		// Transient storage failure: blob and session stay intact so the
		// client can probe and resume.
		return nil, fmt.Errorf("appending chunk: %w", err)
	}

	n, err := s.objects.BytesUploaded(ctx, session.UploadID)
	if err != nil {
		return nil, fmt.Errorf("verifying blob size: %w", err)
	}
	if n != cr.To+1 {
		logger.Error("blob size mismatch after append",
			"upload_id", session.UploadID,
			"expected", cr.To+1,
			"actual", n,
			"written", written,
		)
		return nil, fmt.Errorf("%w: expected %d bytes, object store holds %d", ErrContentRangeMismatch, cr.To+1, n)
	}

	session.BytesReceived = n
	session.LastTouched = time.Now().UTC()
	if err := s.sessions.Update(session); err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ChunkBytes(cr.Size())
	}

	if !cr.IsFinal() {
		return &ChunkResult{Status: ChunkIncomplete, Received: n}, nil
	}

	if err := s.objects.Promote(ctx, session.UploadID); err != nil {
		return nil, fmt.Errorf("promoting payload: %w", err)
	}

	doc := &model.CatalogDoc{
		Filename:   session.UploadID,
		Length:     cr.Total,
		UploadDate: time.Now().UTC(),
		Metadata: model.DocMetadata{
			Metadata: *meta,
			UserID:   userID,
		},
	}
	if _, err := s.docs.Store(ctx, doc); err != nil {
		// The payload stays in the store; losing the metadata write must
		// not lose the bytes. The client sees a 500 and retries.
		return nil, fmt.Errorf("storing metadata document: %w", err)
	}

	if err := s.sessions.Remove(session.ID); err != nil {
		logger.Warn("removing completed session", "session_id", session.ID, "error", err)
	}

	logger.Info("upload completed",
		"session_id", session.ID,
		"upload_id", session.UploadID,
		"device_id", meta.DeviceID,
		"measurement_id", meta.MeasurementID,
		"bytes", cr.Total,
	)
	if s.metrics != nil {
		s.metrics.Completed(cr.Total)
	}
	return &ChunkResult{Status: ChunkCompleted, Received: n}, nil
}

// boundSession resolves the session, validates the request metadata and
// checks that the request identifiers match the bound ones.
func (s *Service) boundSession(_ context.Context, sessionID string, req *model.MetadataRequest) (*Session, *model.Metadata, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}

	meta, err := ValidateMetadata(req)
	if err != nil {
		return nil, nil, err
	}

	if !session.Bound() {
		// A session that never saw a successful pre-request cannot accept
		// uploads; from the client's perspective it does not exist.
		return nil, nil, fmt.Errorf("%w: session %s is not bound", ErrSessionExpired, sessionID)
	}
	if !session.Matches(meta.DeviceID, meta.MeasurementID) {
		return nil, nil, fmt.Errorf("%w: request identifiers do not match session binding", ErrIllegalSession)
	}
	return session, meta, nil
}

// measurementExists queries the catalog for an already committed upload of
// the same identity, translating the duplicate inconsistency.
func (s *Service) measurementExists(ctx context.Context, meta *model.Metadata) (bool, error) {
	var (
		exists bool
		err    error
	)
	if meta.IsAttachment() {
		exists, err = s.docs.ExistsAttachment(ctx, meta.DeviceID, meta.MeasurementID, meta.AttachmentID)
	} else {
		exists, err = s.docs.Exists(ctx, meta.DeviceID, meta.MeasurementID)
	}
	if errors.Is(err, catalog.ErrDuplicates) {
		return false, fmt.Errorf("%w: device %s measurement %s", ErrDuplicatesInDatabase, meta.DeviceID, meta.MeasurementID)
	}
	if err != nil {
		return false, fmt.Errorf("querying catalog: %w", err)
	}
	return exists, nil
}

// discard drops the partial blob and the session after an unrecoverable
// client error. Best effort on both.
func (s *Service) discard(ctx context.Context, session *Session) {
	if session.UploadID != "" {
		if err := s.objects.Delete(ctx, session.UploadID); err != nil {
			logger.Warn("deleting oversized upload", "upload_id", session.UploadID, "error", err)
		}
	}
	if err := s.sessions.Remove(session.ID); err != nil {
		logger.Warn("removing oversized upload session", "session_id", session.ID, "error", err)
	}
}

// observePreRequest maps an error to a pre-request outcome label.
func (s *Service) observePreRequest(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrConflict):
		s.metrics.PreRequest("conflict")
	case errors.Is(err, ErrSkipUpload):
		s.metrics.PreRequest("refused")
	case errors.Is(err, ErrInvalidMetadata), errors.Is(err, ErrUnparsable),
		errors.Is(err, ErrPayloadTooLarge), errors.Is(err, ErrIllegalSession):
		s.metrics.PreRequest("invalid")
	default:
		s.metrics.PreRequest("error")
	}
}
