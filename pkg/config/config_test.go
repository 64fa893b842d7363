package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/sensorsink/internal/bytesize"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.JWT.Secret = testSecret
	cfg.ObjectStore.Backend = "memory"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "/api/v3", cfg.HTTP.Endpoint)
	assert.Equal(t, DefaultPayloadLimit, cfg.Measurement.Payload.Limit)
	assert.Equal(t, DefaultUploadExpiration, cfg.Upload.Expiration)
	assert.Equal(t, 7*24*time.Hour, cfg.Upload.ExpirationDuration())
	assert.Equal(t, "fs", cfg.ObjectStore.Backend)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, "sensorsink", cfg.Mongo.Database)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
logging:
  level: debug
http:
  port: 9443
  endpoint: /api/v3
measurement:
  payload:
    limit: 1Mi
upload:
  expiration: 60000
object_store:
  backend: memory
jwt:
  secret: ` + testSecret + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 9443, cfg.HTTP.Port)
	assert.Equal(t, bytesize.ByteSize(1<<20), cfg.Measurement.Payload.Limit)
	assert.Equal(t, time.Minute, cfg.Upload.ExpirationDuration())
	assert.Equal(t, "memory", cfg.ObjectStore.Backend)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
object_store:
  backend: memory
jwt:
  secret: ` + testSecret + `
http:
  port: 8080
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("SENSORSINK_HTTP_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.HTTP.Port)
}

func TestValidate(t *testing.T) {
	t.Run("ValidConfigPasses", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig()))
	})

	t.Run("MissingJWTSecret", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWT.Secret = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("ShortJWTSecret", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWT.Secret = "too-short"
		assert.Error(t, Validate(cfg))
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "VERBOSE"
		assert.Error(t, Validate(cfg))
	})

	t.Run("FsBackendRequiresPath", func(t *testing.T) {
		cfg := validConfig()
		cfg.ObjectStore.Backend = "fs"
		cfg.ObjectStore.Path = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("S3BackendRequiresBucketAndCreds", func(t *testing.T) {
		cfg := validConfig()
		cfg.ObjectStore.Backend = "s3"
		assert.Error(t, Validate(cfg))

		cfg.ObjectStore.Bucket = "uploads"
		assert.Error(t, Validate(cfg))

		cfg.ObjectStore.S3.AccessKeyID = "key"
		cfg.ObjectStore.S3.SecretAccessKey = "secret"
		assert.NoError(t, Validate(cfg))
	})

	t.Run("BadgerSessionRequiresPath", func(t *testing.T) {
		cfg := validConfig()
		cfg.Session.Backend = "badger"
		cfg.Session.Path = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("ZeroPayloadLimit", func(t *testing.T) {
		cfg := validConfig()
		cfg.Measurement.Payload.Limit = 0
		assert.Error(t, Validate(cfg))
	})
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")

	cfg := validConfig()
	cfg.HTTP.Port = 8443
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8443, loaded.HTTP.Port)
	assert.Equal(t, cfg.JWT.Secret, loaded.JWT.Secret)
}
