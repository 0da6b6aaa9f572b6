// Package httpapi exposes the chat backend over HTTP: the SSE chat
// endpoints, continuation and resume, artifact access, health, and metrics.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kzinmr/tanstack-ai-demo/internal/adapter"
	"github.com/kzinmr/tanstack-ai-demo/internal/artifacts"
	"github.com/kzinmr/tanstack-ai-demo/internal/continuation"
	"github.com/kzinmr/tanstack-ai-demo/internal/observability"
	"github.com/kzinmr/tanstack-ai-demo/internal/runstore"
)

// Config carries the collaborators the handler routes to.
type Config struct {
	Adapter   *adapter.Adapter
	Store     runstore.Store
	Hub       *continuation.Hub
	Artifacts artifacts.Store

	// AllowedOrigins is the CORS allowlist; "*" allows any origin.
	AllowedOrigins []string

	// Model is reported by the health endpoint.
	Model string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Handler is the HTTP API surface.
type Handler struct {
	config *Config
	logger *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg *Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{config: cfg, logger: logger}
}

// Mount returns the routed handler with middleware applied.
func (h *Handler) Mount() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/continue", h.handleChatContinue)
	mux.HandleFunc("POST /api/chat/resume", h.handleChatResume)
	mux.HandleFunc("GET /api/data/{run_id}/{artifact_id}", h.handleData)

	return h.withCORS(h.withObservability(mux))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.jsonResponse(w, map[string]string{"status": "ok", "model": h.config.Model})
}

// jsonResponse writes a JSON response.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusWriter records the response code for logging and metrics while
// keeping the flusher available for SSE.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", duration.Milliseconds(),
		)
		if h.config.Metrics != nil {
			h.config.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(sw.status), duration.Seconds())
		}
	})
}

func (h *Handler) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) originAllowed(origin string) bool {
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
