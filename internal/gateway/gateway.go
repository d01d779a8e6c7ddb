// Package gateway exposes the HTTP API: auth, task CRUD, conversations,
// the chat endpoint, and operational endpoints.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/store"
	"github.com/basket/taskchat/internal/telemetry"
	"github.com/basket/taskchat/internal/tools"
	"github.com/google/uuid"
)

// Config holds the gateway's collaborators.
type Config struct {
	Store  *store.Store
	Chat   *chat.Service
	Issuer *auth.TokenIssuer
	Logger *slog.Logger

	// ToolCatalog is served from /api/tools.
	ToolCatalog []tools.Spec

	// ConfigFingerprint is the hash of active config exposed in /metrics.
	ConfigFingerprint string

	Metrics *telemetry.Metrics
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	started time.Time
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, started: time.Now()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/auth/signup", s.handleSignup)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/api/tools", s.handleTools)
	// Per-user API: /api/{user}/tasks, /api/{user}/chat, /api/{user}/conversations.
	mux.HandleFunc("/api/", s.handleUserAPI)
	return s.withRequestLog(mux)
}

// withRequestLog tags each request with an id and records its duration.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
		elapsed := time.Since(start)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(r.Context(), elapsed.Seconds())
		}
		s.logger.Debug("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", elapsed.Milliseconds())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, _, _, err := s.cfg.Store.TaskCounts(r.Context()); err != nil {
		dbOK = false
	}
	payload := map[string]any{
		"healthy": dbOK,
		"db_ok":   dbOK,
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, pending, completed, _ := s.cfg.Store.TaskCounts(ctx)
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	payload := map[string]any{
		"total_tasks":     total,
		"pending_tasks":   pending,
		"completed_tasks": completed,
		"alloc_bytes":     mem.Alloc,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"config_hash":     s.cfg.ConfigFingerprint,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.cfg.ToolCatalog})
}

// authenticate extracts and verifies the bearer token, returning the user id.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	userID, err := s.cfg.Issuer.Verify(token)
	if err != nil {
		return "", false
	}
	return userID, true
}

// handleUserAPI routes /api/{user}/... requests after authentication.
func (s *Server) handleUserAPI(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	pathUser := parts[0]
	if pathUser != callerID {
		writeError(w, http.StatusForbidden, "User ID mismatch")
		return
	}

	rest := ""
	if len(parts) == 3 {
		rest = parts[2]
	}

	switch parts[1] {
	case "tasks":
		if rest == "" {
			s.handleTaskCollection(w, r, pathUser)
		} else {
			s.handleTaskByID(w, r, pathUser, rest)
		}
	case "chat":
		s.handleChat(w, r, pathUser)
	case "conversations":
		s.handleConversations(w, r, pathUser, rest)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
