package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pak-finance/internal/metrics"
	"pak-finance/internal/notify"
	"pak-finance/internal/repo"
	"pak-finance/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Service       *service.Service
	Notifications *notify.Center
	Store         repo.Store
	RateLimiter   *RateLimiter
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with the ledger API,
// health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	handler := mountWithBasePath(server.basePath, deps.RateLimiter.Middleware(server.routes()))

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Handler returns the root handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/users", s.handleRegister)
	mux.HandleFunc("GET /api/users/{phone}", s.handleGetUser)
	mux.HandleFunc("PATCH /api/users/{phone}", s.handleUpdateProfile)
	mux.HandleFunc("POST /api/session", s.handleLogin)
	mux.HandleFunc("DELETE /api/session", s.handleLogout)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/plans", s.handlePlans)
	mux.HandleFunc("GET /api/settings", s.handlePublicSettings)
	mux.HandleFunc("POST /api/users/{phone}/investments", s.handleInvest)
	mux.HandleFunc("POST /api/users/{phone}/investments/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /api/users/{phone}/requests", s.handleSubmitRequest)
	mux.HandleFunc("POST /api/users/{phone}/games/scratch", s.handleScratch)
	mux.HandleFunc("POST /api/users/{phone}/games/ad-reward", s.handleAdReward)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.handleDismiss)

	mux.HandleFunc("GET /admin/requests", s.handleListRequests)
	mux.HandleFunc("POST /admin/requests/{id}/approve", s.handleDecide)
	mux.HandleFunc("POST /admin/requests/{id}/reject", s.handleDecide)
	mux.HandleFunc("GET /admin/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /admin/settings", s.handlePutSettings)
	mux.HandleFunc("GET /admin/users", s.handleListUsers)
	mux.HandleFunc("POST /admin/users/{phone}/balance", s.handleAdjustBalance)
	mux.HandleFunc("POST /admin/users/{phone}/admin", s.handleSetAdmin)
	mux.HandleFunc("GET /admin/history/{name}", s.handleHistory)
	return mux
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
