// Package api exposes the resumable upload protocol over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/sensorsink/internal/logger"
)

// Config carries the HTTP listener settings.
type Config struct {
	// Host is the bind address. Empty means all interfaces.
	Host string

	// Port is the TCP port to listen on.
	Port int

	// Endpoint is the path prefix the protocol routes live under,
	// e.g. "/api/v3".
	Endpoint string

	// ReadHeaderTimeout bounds how long a client may take to send the
	// request headers. The body is not covered: chunk uploads stream at
	// the device's pace.
	ReadHeaderTimeout time.Duration

	// IdleTimeout closes keep-alive connections with no activity.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown once the context driving
	// Start is cancelled.
	ShutdownTimeout time.Duration
}

// applyDefaults fills unset fields so the server works when constructed
// directly in tests. Idempotent with the defaults applied at config load.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Endpoint == "" {
		c.Endpoint = "/api/v3"
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Server provides the HTTP server for the upload API.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server around the given router.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
func NewServer(config Config, handler http.Handler) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:              net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
		// No ReadTimeout or WriteTimeout: a chunk upload is a long-lived
		// stream whose pace the device controls.
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start starts the API HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the server fails to start or shutdown encounters an error
func (s *Server) Start(ctx context.Context) error {
	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening",
			"addr", s.server.Addr,
			"endpoint", s.config.Endpoint,
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Create new context with timeout for graceful shutdown
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}
