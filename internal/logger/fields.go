package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so the collector's
// logs can be aggregated and queried by session, device or upload.
const (
	// ========================================================================
	// Upload Protocol
	// ========================================================================
	KeySessionID     = "session_id"     // Opaque upload session identifier
	KeyUploadID      = "upload_id"      // Object store upload identifier
	KeyDeviceID      = "device_id"      // Capture device UUID
	KeyMeasurementID = "measurement_id" // Device-assigned measurement number
	KeyAttachmentID  = "attachment_id"  // Attachment identifier, if any
	KeyContentRange  = "content_range"  // Raw Content-Range header value

	// ========================================================================
	// Byte Accounting
	// ========================================================================
	KeyBytesReceived = "bytes_received" // Bytes durably stored for the session
	KeyChunkBytes    = "chunk_bytes"    // Bytes carried by one chunk
	KeyTotalBytes    = "total_bytes"    // Declared total payload size

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP = "client_ip" // Client IP address
	KeyUserID   = "user_id"   // Authenticated user identifier

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyStatus     = "status"      // HTTP status code
	KeyMethod     = "method"      // HTTP method
	KeyPath       = "path"        // Request path

	// ========================================================================
	// Storage Backend
	// ========================================================================
	KeyStoreType = "store_type" // Backend type: memory, fs, s3, gcs
	KeyBucket    = "bucket"     // Cloud bucket name (S3, GCS)
	KeyKey       = "key"        // Object key in cloud storage

	// ========================================================================
	// Reaper
	// ========================================================================
	KeyReapedUploads = "reaped_uploads" // Staged uploads removed in one sweep
	KeyReapedBytes   = "reaped_bytes"   // Bytes reclaimed in one sweep
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// SessionID returns a slog.Attr for the upload session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// UploadID returns a slog.Attr for the object store upload identifier
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// DeviceID returns a slog.Attr for the capture device UUID
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// MeasurementID returns a slog.Attr for the measurement number
func MeasurementID(id string) slog.Attr {
	return slog.String(KeyMeasurementID, id)
}

// AttachmentID returns a slog.Attr for the attachment identifier
func AttachmentID(id string) slog.Attr {
	return slog.String(KeyAttachmentID, id)
}

// ContentRange returns a slog.Attr for the raw Content-Range header
func ContentRange(v string) slog.Attr {
	return slog.String(KeyContentRange, v)
}

// BytesReceived returns a slog.Attr for durably stored bytes
func BytesReceived(n int64) slog.Attr {
	return slog.Int64(KeyBytesReceived, n)
}

// ChunkBytes returns a slog.Attr for one chunk's size
func ChunkBytes(n int64) slog.Attr {
	return slog.Int64(KeyChunkBytes, n)
}

// TotalBytes returns a slog.Attr for the declared payload size
func TotalBytes(n int64) slog.Attr {
	return slog.Int64(KeyTotalBytes, n)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// UserID returns a slog.Attr for the authenticated user
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Status returns a slog.Attr for an HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Method returns a slog.Attr for an HTTP method
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Path returns a slog.Attr for a request path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// StoreType returns a slog.Attr for the storage backend type
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}

// Bucket returns a slog.Attr for a cloud bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// Key returns a slog.Attr for an object key in cloud storage
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// ReapedUploads returns a slog.Attr for uploads removed in one sweep
func ReapedUploads(n int) slog.Attr {
	return slog.Int(KeyReapedUploads, n)
}

// ReapedBytes returns a slog.Attr for bytes reclaimed in one sweep
func ReapedBytes(n int64) slog.Attr {
	return slog.Int64(KeyReapedBytes, n)
}
