// Package api provides the HTTP API for nscan. It accepts scan requests,
// runs them in the background and reports their status, results and live
// progress.
//
//go:generate swag init -g server.go -o ../../docs/swagger --parseDependency --parseInternal
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/nscan/docs/swagger" // generated swagger docs
	"github.com/anstrom/nscan/internal/config"
	"github.com/anstrom/nscan/internal/errors"
	"github.com/anstrom/nscan/internal/logging"
	"github.com/anstrom/nscan/internal/metrics"
	"github.com/anstrom/nscan/internal/resolver"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	maxRequestBodyBytes   = 1 << 20
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	jobs       *JobManager
	validate   *validator.Validate
	resolver   resolver.Resolver
	version    string
	startTime  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by /api/v1/version.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector used by the server and its scans.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithResolver overrides the resolver built from the scanning config.
func WithResolver(r resolver.Resolver) Option {
	return func(s *Server) {
		s.resolver = r
	}
}

// New creates a new API server instance.
//
// @title nscan API
// @version 1.0
// @description Submit TCP connect scans, follow their progress and read the open ports they find.
// @contact.name nscan maintainers
// @contact.url https://github.com/anstrom/nscan
// @license.name MIT
// @host localhost:8080
// @BasePath /api/v1
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration, "configuration is required", "", nil)
	}

	s := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		validate:  validator.New(),
		version:   "dev",
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("api")
	if s.metrics == nil {
		s.metrics = metrics.GetGlobalMetrics()
	}
	if s.resolver == nil {
		s.resolver = resolver.New(cfg.Scanning.DNSServer, cfg.Scanning.DNSTimeout)
	}

	s.jobs = NewJobManager(cfg.Scanning, cfg.API.MaxConcurrentScans, s.resolver, s.metrics, s.logger)

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         cfg.GetAPIAddress(),
		Handler:      s.handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	return s, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"max_concurrent_scans", s.jobs.Capacity())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		s.jobs.Close()
		return err
	}
}

// Stop gracefully stops the API server and cancels running scans.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.jobs.Close()
	if err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Jobs returns the scan job manager.
func (s *Server) Jobs() *JobManager {
	return s.jobs
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/version", s.versionHandler).Methods(http.MethodGet)

	api.HandleFunc("/scans", s.createScanHandler).Methods(http.MethodPost)
	api.HandleFunc("/scans", s.listScansHandler).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", s.getScanHandler).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/progress", s.progressHandler).Methods(http.MethodGet)

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	)).Methods(http.MethodGet)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errors.NewScanError(errors.CodeNotFound, "no route for "+r.URL.Path))
	})
}

// setupMiddleware configures router-level middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.contentTypeMiddleware)
}

// handler wraps the router with middleware that must also see unmatched requests.
func (s *Server) handler() http.Handler {
	var h http.Handler = s.router

	if s.config.API.EnableCORS {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.config.API.CORSOrigins),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		)(h)
	}

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// recoveryLogger adapts the structured logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Panic in API handler", "error", fmt.Sprint(v...))
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// statusForError maps error codes to HTTP status codes.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation, errors.CodeInvalidStrategy, errors.CodeTargetInvalid, errors.CodeResolution:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeCapacityExceeded:
		return http.StatusTooManyRequests
	case errors.CodeScanState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a standardized error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusForError(err)
	code := errors.GetCode(err)

	log := s.logger.Warn
	if statusCode >= http.StatusInternalServerError {
		log = s.logger.Error
	}
	log("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"code", code,
		"error", err,
		"remote_addr", r.RemoteAddr)

	s.WriteJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Code:      string(code),
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(r),
	})
}

// WriteJSON writes a JSON response.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}

// ParseJSON decodes the request body strictly into v.
func (s *Server) ParseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.NewScanError(errors.CodeValidation, "empty request body")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return errors.WrapScanError(errors.CodeValidation, "invalid JSON", err)
	}
	return nil
}

// getRequestID extracts or generates a request ID.
func getRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// loggingMiddleware logs HTTP requests and records request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := routeTemplate(r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent())

		s.metrics.IncrementHTTPRequests(r.Method, path, strconv.Itoa(wrapped.statusCode))
		s.metrics.RecordHTTPDuration(r.Method, path, duration)
	})
}

// routeTemplate returns the matched route pattern so metric labels stay bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// contentTypeMiddleware rejects POST bodies that are not JSON.
func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if contentType := r.Header.Get("Content-Type"); contentType != "" {
				mediaType, _, err := mime.ParseMediaType(contentType)
				if err != nil || mediaType != "application/json" {
					s.WriteJSON(w, r, http.StatusUnsupportedMediaType, ErrorResponse{
						Error:     "unsupported content type: " + contentType,
						Code:      string(errors.CodeValidation),
						Timestamp: time.Now().UTC(),
						RequestID: getRequestID(r),
					})
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
