package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shelfard/shelfard/internal/drift"
	"github.com/shelfard/shelfard/internal/observability"
)

// RouterConfig holds the dependencies of the API router.
type RouterConfig struct {
	// Service runs snapshots and checks; its registry serves history reads
	Service *drift.Service

	// Metrics is exposed on /metrics when set
	Metrics *observability.Metrics

	// MaxBodyBytes bounds posted payloads (default: 64MB)
	MaxBodyBytes int64

	// Middleware is applied outside the default chain, e.g. shutdown tracking
	Middleware []func(http.Handler) http.Handler

	Logger *slog.Logger
}

// NewRouter builds the API handler.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/health", healthHandler).Methods("GET")
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler()).Methods("GET")
	}
	NewSchemaHandler(cfg.Service, cfg.MaxBodyBytes, logger).Routes(router)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "no such route", RequestID: GetRequestID(r.Context())})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", RequestID: GetRequestID(r.Context())})
	})

	chain := append(append([]func(http.Handler) http.Handler{}, cfg.Middleware...), DefaultMiddleware(logger))
	return ChainMiddleware(chain...)(router)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "shelfard"})
}
