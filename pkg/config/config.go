package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/sensorsink/internal/bytesize"
)

// Config represents the SensorSink configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SENSORSINK_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// HTTP configures the upload API listener
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`

	// Measurement carries per-upload policy such as the payload limit
	Measurement MeasurementConfig `mapstructure:"measurement" yaml:"measurement"`

	// Upload configures session expiration and the staging reaper
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// ObjectStore selects and configures the payload storage backend
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`

	// Mongo configures the metadata catalog connection
	Mongo MongoConfig `mapstructure:"mongo" yaml:"mongo"`

	// Session selects and configures the upload session store
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// JWT configures bearer-token verification
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// HTTPConfig configures the upload API listener.
type HTTPConfig struct {
	// Host is the listen address
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Endpoint is the API prefix all routes nest under
	// Default: /api/v3
	Endpoint string `mapstructure:"endpoint" validate:"required,startswith=/" yaml:"endpoint"`

	// ReadHeaderTimeout bounds header parsing. Body reads are not bounded
	// here; chunk uploads may legitimately take a long time on slow links.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout is the keep-alive idle timeout
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// MeasurementConfig carries per-upload policy.
type MeasurementConfig struct {
	Payload PayloadConfig `mapstructure:"payload" yaml:"payload"`
}

// PayloadConfig bounds payload sizes.
type PayloadConfig struct {
	// Limit is the maximum payload size, applied to the declared total on
	// pre-request and to each chunk's content length. Accepts plain byte
	// counts or human-readable sizes like "100Mi".
	Limit bytesize.ByteSize `mapstructure:"limit" validate:"required,gt=0" yaml:"limit"`
}

// UploadConfig configures session expiration and the staging reaper.
type UploadConfig struct {
	// Expiration is the upload abandonment threshold in milliseconds.
	// Staged blobs untouched for longer than this are reaped.
	Expiration int64 `mapstructure:"expiration" validate:"required,gt=0" yaml:"expiration"`

	// ReapInterval is how often the reaper sweeps. Zero means sweep once
	// per expiration window.
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval,omitempty"`
}

// ExpirationDuration returns the expiration window as a time.Duration.
func (c UploadConfig) ExpirationDuration() time.Duration {
	return time.Duration(c.Expiration) * time.Millisecond
}

// ObjectStoreConfig selects and configures the payload storage backend.
type ObjectStoreConfig struct {
	// Backend selects the implementation
	// Valid values: fs, s3, gcs, memory
	Backend string `mapstructure:"backend" validate:"required,oneof=fs s3 gcs memory" yaml:"backend"`

	// Path is the root directory for the fs backend
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// Bucket is the bucket name for the s3 and gcs backends
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`

	// S3 carries s3-backend credentials and addressing
	S3 S3Config `mapstructure:"s3" yaml:"s3,omitempty"`

	// GCS carries gcs-backend credentials
	GCS GCSConfig `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// S3Config contains S3 or S3-compatible storage settings.
type S3Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible servers
	// (e.g. http://localhost:9000 for MinIO). Empty uses AWS.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Region is the AWS region
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses path-style addressing (required by MinIO)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// GCSConfig contains Google Cloud Storage settings.
type GCSConfig struct {
	// CredentialsFile is a service account key file path. Empty uses
	// application default credentials.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

// MongoConfig configures the metadata catalog connection.
type MongoConfig struct {
	// Data is the connection string of the measurement metadata database
	Data string `mapstructure:"data" yaml:"data"`

	// User is the connection string of the user/auth database. Reserved
	// for deployments where token subjects are resolved server-side.
	User string `mapstructure:"user" yaml:"user,omitempty"`

	// Database is the database name on the Data deployment
	Database string `mapstructure:"database" yaml:"database"`
}

// SessionConfig selects and configures the upload session store.
type SessionConfig struct {
	// Backend selects the implementation
	// Valid values: memory, badger
	Backend string `mapstructure:"backend" validate:"required,oneof=memory badger" yaml:"backend"`

	// Path is the badger database directory (badger backend only)
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// JWTConfig configures bearer-token verification.
type JWTConfig struct {
	// Secret is the HMAC signing secret tokens are verified against
	Secret string `mapstructure:"secret" validate:"required,min=32" yaml:"secret"`

	// Issuer, when set, must match the token's iss claim
	Issuer string `mapstructure:"issuer" yaml:"issuer,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics server is started.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SENSORSINK_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  sensorsink init\n\n"+
				"Or specify a custom config file:\n"+
				"  sensorsink <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  sensorsink init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because the file carries the JWT secret and store credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SENSORSINK_ prefix and underscores
	// Example: SENSORSINK_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SENSORSINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		// ByteSize fields accept strings like "100Mi" via UnmarshalText
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sensorsink")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sensorsink")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
