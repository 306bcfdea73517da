package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vulnforge/vulnforge/internal/analyze"
	"github.com/vulnforge/vulnforge/internal/config"
	"github.com/vulnforge/vulnforge/internal/export"
	"github.com/vulnforge/vulnforge/internal/feed"
	"github.com/vulnforge/vulnforge/internal/observability"
	"github.com/vulnforge/vulnforge/internal/statestore"

	_ "github.com/vulnforge/vulnforge/build/swagger" // Import generated docs
)

// @title vulnforge API
// @version 1.0
// @description REST API for querying reconciled vulnerability advisories, package risk assessments, and corpus analysis results.
// @description
// @description ## Features
// @description - Query reconciled vulnerability records
// @description - Per-package risk assessments
// @description - Description similarity clusters and the package relationship graph
// @description - Trigger feed discovery, analysis runs, and report exports

// @contact.name vulnforge
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter your API key (with or without "Bearer " prefix)

// APIServer provides HTTP API for querying reconciled records and triggering operations
type APIServer struct {
	config     *config.APIConfig
	stateStore statestore.StateStore
	analysis   *analyze.Service
	watcher    feed.Watcher
	exporter   *export.Exporter
	router     *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	cfg *config.APIConfig,
	store statestore.StateStore,
	analysis *analyze.Service,
	watcher feed.Watcher,
	exporter *export.Exporter,
	logger *slog.Logger,
) *APIServer {
	api := &APIServer{
		config:     cfg,
		stateStore: store,
		analysis:   analysis,
		watcher:    watcher,
		exporter:   exporter,
		router:     http.NewServeMux(),
		logger:     logger,
	}

	api.setupRoutes()

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return api
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Query endpoints (GET)
	s.router.HandleFunc("/api/v1/vulnerabilities", s.corsMiddleware(s.authMiddleware(s.handleListVulnerabilities, false)))
	s.router.HandleFunc("/api/v1/vulnerabilities/", s.corsMiddleware(s.authMiddleware(s.handleGetVulnerability, false)))
	s.router.HandleFunc("/api/v1/packages", s.corsMiddleware(s.authMiddleware(s.handleListPackages, false)))
	s.router.HandleFunc("/api/v1/packages/", s.corsMiddleware(s.authMiddleware(s.handlePackageRisk, false)))
	s.router.HandleFunc("/api/v1/analysis", s.corsMiddleware(s.authMiddleware(s.handleGetAnalysis, false)))

	// Action endpoints (POST)
	s.router.HandleFunc("/api/v1/feed/discover", s.corsMiddleware(s.authMiddleware(s.handleTriggerDiscovery, true)))
	s.router.HandleFunc("/api/v1/analysis/run", s.corsMiddleware(s.authMiddleware(s.handleRunAnalysis, true)))
	s.router.HandleFunc("/api/v1/export", s.corsMiddleware(s.authMiddleware(s.handleExport, true)))

	// Health
	s.router.HandleFunc("/health", s.corsMiddleware(s.handleHealth))

	// Swagger documentation
	s.router.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Redirect root to swagger
	s.router.HandleFunc("/", s.handleRootRedirect)
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func (s *APIServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Call the next handler
		next(w, r)
	}
}

// authMiddleware provides optional API key authentication
// requireWrite indicates if this is a write operation that should be blocked in read-only mode
func (s *APIServer) authMiddleware(next http.HandlerFunc, requireWrite bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Check if write operation is allowed
		if requireWrite && s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		// If API key is configured, validate it
		if s.config.APIKey != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				s.respondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract token - accept both "Bearer <token>" and just "<token>"
			token := authHeader
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if token != s.config.APIKey {
				s.respondError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		}

		// Authentication passed, call the handler
		next(w, r)
	}
}

// Start starts the API server
func (s *APIServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	s.logger.Info("starting API server",
		"port", s.config.Port)

	// Start server in a goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error",
				"error", err.Error())
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON sends a JSON response
func (s *APIServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response",
			"error", err.Error())
	}
}

// respondError sends an error response
func (s *APIServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// countRequest records one API request in the metrics
func (s *APIServer) countRequest(endpoint string, status int) {
	observability.GetMetrics().APIRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()
}

// parseQueryParam extracts a query parameter from the request
func parseQueryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// parseQueryParamInt extracts an integer query parameter
func parseQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
		return intValue
	}
	return defaultValue
}

// handleRootRedirect redirects / to /swagger/
func (s *APIServer) handleRootRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
}
