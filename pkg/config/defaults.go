package config

import (
	"strings"
	"time"

	"github.com/marmos91/sensorsink/internal/bytesize"
)

// Default values applied to unspecified configuration fields.
const (
	// DefaultPayloadLimit is the maximum payload size (100 MiB).
	DefaultPayloadLimit = 100 * bytesize.MiB

	// DefaultUploadExpiration is the reaper threshold (7 days, in ms).
	DefaultUploadExpiration = int64(7 * 24 * time.Hour / time.Millisecond)
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyHTTPDefaults(&cfg.HTTP)
	applyMeasurementDefaults(&cfg.Measurement)
	applyUploadDefaults(&cfg.Upload)
	applyObjectStoreDefaults(&cfg.ObjectStore)
	applyMongoDefaults(&cfg.Mongo)
	applySessionDefaults(&cfg.Session)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyHTTPDefaults sets listener defaults.
func applyHTTPDefaults(cfg *HTTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/api/v3"
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyMeasurementDefaults sets payload policy defaults.
func applyMeasurementDefaults(cfg *MeasurementConfig) {
	if cfg.Payload.Limit == 0 {
		cfg.Payload.Limit = DefaultPayloadLimit
	}
}

// applyUploadDefaults sets session expiration defaults.
func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.Expiration == 0 {
		cfg.Expiration = DefaultUploadExpiration
	}
	// ReapInterval zero means once per expiration window; resolved by the
	// reaper itself so the config keeps the user's intent
}

// applyObjectStoreDefaults sets object store defaults.
func applyObjectStoreDefaults(cfg *ObjectStoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "fs"
	}
	if cfg.Backend == "fs" && cfg.Path == "" {
		cfg.Path = "/var/lib/sensorsink/measurements"
	}
	if cfg.Backend == "s3" && cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// applyMongoDefaults sets catalog connection defaults.
func applyMongoDefaults(cfg *MongoConfig) {
	if cfg.Data == "" {
		cfg.Data = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "sensorsink"
	}
}

// applySessionDefaults sets session store defaults.
func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.Backend == "badger" && cfg.Path == "" {
		cfg.Path = "/var/lib/sensorsink/sessions"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
