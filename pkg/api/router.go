package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/sensorsink/internal/logger"
	"github.com/marmos91/sensorsink/pkg/api/auth"
	"github.com/marmos91/sensorsink/pkg/api/handlers"
	apimiddleware "github.com/marmos91/sensorsink/pkg/api/middleware"
	"github.com/marmos91/sensorsink/pkg/upload"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//
// There is deliberately no global request timeout: chunk uploads stream
// for as long as the device keeps sending.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - POST <endpoint>/measurements - Upload pre-request
//   - PUT <endpoint>/measurements/({sessionID})/ - Status probe and chunk upload
func NewRouter(endpoint string, svc *upload.Service, jwtService *auth.JWTService, checks ...handlers.Check) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	// Health routes - unauthenticated
	healthHandler := handlers.NewHealthHandler(checks...)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Upload protocol routes - bearer token required
	measurements := handlers.NewMeasurementsHandler(svc)
	r.Route(endpoint, func(r chi.Router) {
		r.Use(apimiddleware.JWTAuth(jwtService))
		r.Post("/measurements", measurements.PreRequest)
		r.Put("/measurements/({sessionID})/", measurements.Upload)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
