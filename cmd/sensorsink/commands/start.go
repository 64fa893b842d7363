package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/marmos91/sensorsink/internal/logger"
	"github.com/marmos91/sensorsink/pkg/api"
	"github.com/marmos91/sensorsink/pkg/api/auth"
	"github.com/marmos91/sensorsink/pkg/api/handlers"
	"github.com/marmos91/sensorsink/pkg/config"
	"github.com/marmos91/sensorsink/pkg/metrics"
	promcollect "github.com/marmos91/sensorsink/pkg/metrics/prometheus"
	catalogmongo "github.com/marmos91/sensorsink/pkg/store/catalog/mongo"
	"github.com/marmos91/sensorsink/pkg/store/object"
	objectfs "github.com/marmos91/sensorsink/pkg/store/object/fs"
	objectgcs "github.com/marmos91/sensorsink/pkg/store/object/gcs"
	objectmem "github.com/marmos91/sensorsink/pkg/store/object/memory"
	objects3 "github.com/marmos91/sensorsink/pkg/store/object/s3"
	"github.com/marmos91/sensorsink/pkg/upload"
	sessionbadger "github.com/marmos91/sensorsink/pkg/upload/sessionstore/badger"
	sessionmem "github.com/marmos91/sensorsink/pkg/upload/sessionstore/memory"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the SensorSink server",
	Long: `Start the SensorSink upload server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/sensorsink/config.yaml.

Examples:
  # Start with default config location
  sensorsink start

  # Start with custom config file
  sensorsink start --config /etc/sensorsink/config.yaml

  # Start with environment variable overrides
  SENSORSINK_LOGGING_LEVEL=DEBUG sensorsink start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics FIRST (before creating the service that uses them)
	// so the collectors register against a live registry
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Object store for measurement payloads
	objects, objectsCleanup, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	defer objectsCleanup()
	logger.Info("Object store initialized", "backend", cfg.ObjectStore.Backend)

	// MongoDB metadata catalog
	docs, mongoClient, err := catalogmongo.Connect(ctx, cfg.Mongo.Data, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("MongoDB disconnect error", "error", err)
		}
	}()
	if err := docs.EnsureIndices(ctx); err != nil {
		return fmt.Errorf("failed to ensure catalog indices: %w", err)
	}
	logger.Info("Metadata catalog initialized", "database", cfg.Mongo.Database)

	// Session store for upload state
	sessions, sessionsCleanup, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer sessionsCleanup()
	logger.Info("Session store initialized", "backend", cfg.Session.Backend)

	svc := upload.NewService(
		upload.Config{PayloadLimit: cfg.Measurement.Payload.Limit.Int64()},
		sessions, objects, docs,
		promcollect.NewUploadMetrics(),
	)

	reaper := upload.NewReaper(
		objects,
		cfg.Upload.ExpirationDuration(),
		cfg.Upload.ReapInterval,
		promcollect.NewReaperMetrics(),
	)

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWT service: %w", err)
	}

	router := api.NewRouter(cfg.HTTP.Endpoint, svc, jwtService,
		handlers.Check{Name: "mongo", Probe: func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		}},
		handlers.Check{Name: "object_store", Probe: objectStoreCheck(objects)},
	)
	apiServer := api.NewServer(api.Config{
		Host:              cfg.HTTP.Host,
		Port:              cfg.HTTP.Port,
		Endpoint:          cfg.HTTP.Endpoint,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, router)

	metricsServer := metrics.NewServer(cfg.Metrics.Port)

	// Start everything in the background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()
	go func() {
		if err := reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Reaper error", "error", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// buildObjectStore creates the configured payload store backend. The
// returned cleanup releases any held clients and is safe to call once.
func buildObjectStore(ctx context.Context, cfg *config.Config) (object.Store, func(), error) {
	noop := func() {}

	switch cfg.ObjectStore.Backend {
	case "memory":
		return objectmem.New(), noop, nil

	case "fs":
		store, err := objectfs.New(cfg.ObjectStore.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case "s3":
		client, err := objects3.NewClientFromConfig(ctx,
			cfg.ObjectStore.S3.Endpoint,
			cfg.ObjectStore.S3.Region,
			cfg.ObjectStore.S3.AccessKeyID,
			cfg.ObjectStore.S3.SecretAccessKey,
			cfg.ObjectStore.S3.ForcePathStyle,
		)
		if err != nil {
			return nil, nil, err
		}
		store, err := objects3.New(ctx, client, cfg.ObjectStore.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case "gcs":
		var opts []option.ClientOption
		if cfg.ObjectStore.GCS.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.ObjectStore.GCS.CredentialsFile))
		}
		client, err := gcstorage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		store, err := objectgcs.New(ctx, client, cfg.ObjectStore.Bucket)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("GCS client close error", "error", err)
			}
		}
		return store, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown object store backend: %s", cfg.ObjectStore.Backend)
	}
}

// buildSessionStore creates the configured session store backend.
func buildSessionStore(cfg *config.Config) (upload.SessionStore, func(), error) {
	switch cfg.Session.Backend {
	case "memory":
		return sessionmem.New(), func() {}, nil

	case "badger":
		store, err := sessionbadger.Open(cfg.Session.Path, cfg.Upload.ExpirationDuration())
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Warn("Session store close error", "error", err)
			}
		}
		return store, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown session store backend: %s", cfg.Session.Backend)
	}
}

// objectStoreCheck probes the store with a lookup of an id that cannot
// exist; a clean not-found proves the backend is reachable.
func objectStoreCheck(objects object.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := objects.BytesUploaded(ctx, "readiness-probe")
		if err == nil || errors.Is(err, object.ErrNotFound) {
			return nil
		}
		return err
	}
}
