package upload

import "errors"

// Error taxonomy of the upload protocol. The service layer returns these
// (possibly wrapped); the HTTP layer maps each kind to a status code and
// never inspects anything finer grained.
var (
	// ErrUnparsable marks malformed input syntax: a broken Content-Range,
	// a non-numeric size header, invalid JSON.
	ErrUnparsable = errors.New("unparsable input")

	// ErrInvalidMetadata marks syntactically valid but semantically bad
	// metadata (missing field, length cap, range violation).
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrSkipUpload is a server-side policy refusal: the upload is well
	// formed but not wanted (too few locations, unsupported format
	// version). Clients must not retry it.
	ErrSkipUpload = errors.New("upload refused")

	// ErrPayloadTooLarge marks a declared or observed size above the
	// configured measurement payload limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrIllegalSession marks a request inconsistent with its session
	// state, e.g. a pre-request on an already bound session or an upload
	// whose identifiers do not match the bound ones.
	ErrIllegalSession = errors.New("illegal session state")

	// ErrSessionExpired marks a request for a session this server has no
	// record of. The client must restart with a new pre-request.
	ErrSessionExpired = errors.New("session expired")

	// ErrContentRangeMismatch marks a failed post-write verification: the
	// blob size after streaming does not match the Content-Range upper
	// bound. Indicates data loss at the object store.
	ErrContentRangeMismatch = errors.New("content range not matching file size")

	// ErrDuplicatesInDatabase marks more than one catalog document for a
	// key that must be unique. Requires operator intervention.
	ErrDuplicatesInDatabase = errors.New("duplicate measurements in database")

	// ErrConflict marks a measurement that is already fully stored.
	ErrConflict = errors.New("measurement already exists")
)
