package upload

import "time"

// Session is the server-side record binding one logical upload to the
// sequence of HTTP requests that drive it. A session is created by the
// pre-request, which binds it to a (deviceId, measurementId) pair; the
// first accepted chunk adds the upload identifier under which bytes
// accumulate in the object store.
//
// Sessions are plain values. All mutation goes through the SessionStore as
// point updates keyed by ID, so handlers never share a live reference.
type Session struct {
	// ID is the opaque identifier embedded in the Location URL.
	ID string `json:"id"`

	// DeviceID and MeasurementID bind the session after a successful
	// pre-request. Both empty means the session is unbound.
	DeviceID      string `json:"deviceId,omitempty"`
	MeasurementID string `json:"measurementId,omitempty"`

	// AttachmentID is set when the session uploads an attachment.
	AttachmentID string `json:"attachmentId,omitempty"`

	// UploadID names the blob pair in the object store. Empty until the
	// first chunk is accepted.
	UploadID string `json:"uploadId,omitempty"`

	// BytesReceived mirrors the committed blob size whenever the session
	// is observed from outside a request.
	BytesReceived int64 `json:"bytesReceived"`

	CreatedAt   time.Time `json:"createdAt"`
	LastTouched time.Time `json:"lastTouched"`
}

// Bound reports whether a pre-request has bound this session to a
// measurement.
func (s *Session) Bound() bool {
	return s.DeviceID != "" && s.MeasurementID != ""
}

// Matches reports whether the session is bound to the given identifiers.
func (s *Session) Matches(deviceID, measurementID string) bool {
	return s.DeviceID == deviceID && s.MeasurementID == measurementID
}

// SessionStore is the keyed, server-side map of upload sessions.
//
// Implementations may be process-local (memory) or externalized (badger);
// the protocol requires strong read-your-writes for one session within a
// single node and nothing across nodes.
type SessionStore interface {
	// Create allocates a session with a fresh opaque id and returns it.
	Create() (*Session, error)

	// Get returns the session for the given id, or ErrSessionExpired if
	// the store has no record of it.
	Get(id string) (*Session, error)

	// Update overwrites the stored session keyed by its ID.
	Update(s *Session) error

	// Remove deletes the session. Removing an unknown id is not an error.
	Remove(id string) error
}
