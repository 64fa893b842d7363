package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors beyond what struct tags can
// express: backend-specific required fields and cross-field consistency.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.ObjectStore.Backend {
	case "fs":
		if cfg.ObjectStore.Path == "" {
			return fmt.Errorf("object_store.path is required for the fs backend")
		}
	case "s3":
		if cfg.ObjectStore.Bucket == "" {
			return fmt.Errorf("object_store.bucket is required for the s3 backend")
		}
		if cfg.ObjectStore.S3.AccessKeyID == "" || cfg.ObjectStore.S3.SecretAccessKey == "" {
			return fmt.Errorf("object_store.s3 credentials are required for the s3 backend")
		}
	case "gcs":
		if cfg.ObjectStore.Bucket == "" {
			return fmt.Errorf("object_store.bucket is required for the gcs backend")
		}
	}

	if cfg.Session.Backend == "badger" && cfg.Session.Path == "" {
		return fmt.Errorf("session.path is required for the badger backend")
	}

	if cfg.Mongo.Data == "" {
		return fmt.Errorf("mongo.data connection string is required")
	}

	return nil
}
