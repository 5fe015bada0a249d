//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package chat exposes the tenant chat surface over HTTP: the chat
// endpoint itself, session reads, a health probe and the admin cache
// reload. Authentication is bearer JWT unless the server is built with
// auth disabled, which also mounts the test chat route.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/myle1996kh/ITL-PGVector-sub000/internal/auth"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/orchestrator"
	"github.com/myle1996kh/ITL-PGVector-sub000/session"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
)

// healthCheckTimeout bounds each backing-service probe.
const healthCheckTimeout = 2 * time.Second

// Service is the orchestration surface the HTTP layer fronts.
// *orchestrator.Orchestrator is the production implementation.
type Service interface {
	Handle(ctx context.Context, req *orchestrator.ChatRequest) (*orchestrator.ChatResponse, error)
	ListSessions(ctx context.Context, tenantID, userID string, limit, offset int) ([]*session.Session, int, error)
	GetSessionDetail(ctx context.Context, tenantID, sessionID string) (*orchestrator.SessionDetail, error)
}

// TokenVerifier authorizes a bearer token for one tenant.
// *auth.Verifier is the production implementation.
type TokenVerifier interface {
	Authorize(token, tenantID string) (*auth.Claims, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReloadHook drops tenant-scoped cached state on admin reload.
type ReloadHook func(ctx context.Context, tenantID string) error

// Server is the HTTP front of the router.
type Server struct {
	router      *mux.Router
	chat        Service
	verifier    TokenVerifier
	disableAuth bool
	storePing   Pinger
	cachePing   Pinger
	reloadHooks []ReloadHook
}

// Option configures the Server instance.
type Option func(*Server)

// WithVerifier sets the bearer verifier. Required unless auth is
// disabled; without one the API surface fails closed.
func WithVerifier(v TokenVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithAuthDisabled skips bearer enforcement and mounts the test chat
// route.
func WithAuthDisabled() Option {
	return func(s *Server) { s.disableAuth = true }
}

// WithHealthChecks wires the store and cache reachability probes used
// by the health endpoint.
func WithHealthChecks(store, cache Pinger) Option {
	return func(s *Server) {
		s.storePing = store
		s.cachePing = cache
	}
}

// WithReloadHooks appends hooks run by the cache reload endpoint.
func WithReloadHooks(hooks ...ReloadHook) Option {
	return func(s *Server) { s.reloadHooks = append(s.reloadHooks, hooks...) }
}

// New creates the chat server. The behaviour can be tweaked via
// functional options.
func New(svc Service, opts ...Option) *Server {
	s := &Server{
		router: mux.NewRouter(),
		chat:   svc,
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	// Preflight must match before the authenticated subrouter so the
	// CORS middleware sees it.
	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	s.router.PathPrefix("/api/").HandlerFunc(preflight).Methods(http.MethodOptions)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/{tenant_id}/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/{tenant_id}/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/{tenant_id}/sessions/{session_id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/{tenant_id}/cache/reload", s.handleCacheReload).Methods(http.MethodPost)

	// Test surface, reachable without credentials. Mounted only when
	// auth is disabled.
	if s.disableAuth {
		s.router.HandleFunc("/api/{tenant_id}/test/chat", s.handleChat).Methods(http.MethodPost)
	}
}

// authMiddleware enforces bearer auth on the API surface.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.disableAuth {
			next.ServeHTTP(w, r)
			return
		}
		if s.verifier == nil {
			s.writeError(w, status.New(status.CodeUnauthorized, "authentication is not configured"))
			return
		}
		token := auth.BearerFromRequest(r)
		if token == "" {
			s.writeError(w, status.New(status.CodeUnauthorized, "missing bearer token"))
			return
		}
		tenantID := mux.Vars(r)["tenant_id"]
		if _, err := s.verifier.Authorize(token, tenantID); err != nil {
			log.Warnf("bearer rejected for tenant %s: %v", tenantID, err)
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- Handlers -----------------------------------------------------------

type chatBody struct {
	Message   string         `json:"message"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log.Debugf("handleChat called: path=%s", r.URL.Path)
	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, status.Wrap(status.CodeInvalidArgument, "malformed request body", err))
		return
	}
	defer r.Body.Close()

	resp, err := s.chat.Handle(r.Context(), &orchestrator.ChatRequest{
		TenantID:  mux.Vars(r)["tenant_id"],
		UserID:    body.UserID,
		SessionID: body.SessionID,
		Message:   body.Message,
		Metadata:  body.Metadata,
		Bearer:    auth.BearerFromRequest(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type sessionsPage struct {
	Sessions []*session.Session `json:"sessions"`
	Total    int                `json:"total"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	log.Debugf("handleListSessions called: path=%s", r.URL.Path)
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		s.writeError(w, status.New(status.CodeInvalidArgument, "user_id query parameter is required"))
		return
	}
	limit, err := intQuery(q, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	offset, err := intQuery(q, "offset", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sessions, total, err := s.chat.ListSessions(r.Context(), mux.Vars(r)["tenant_id"], userID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	s.writeJSON(w, http.StatusOK, &sessionsPage{Sessions: sessions, Total: total})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	log.Debugf("handleGetSession called: path=%s", r.URL.Path)
	vars := mux.Vars(r)
	detail, err := s.chat.GetSessionDetail(r.Context(), vars["tenant_id"], vars["session_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCacheReload(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	log.Infof("handleCacheReload called: tenant=%s", tenantID)
	for _, hook := range s.reloadHooks {
		if err := hook(r.Context(), tenantID); err != nil {
			s.writeError(w, status.Wrap(status.CodeStoreError, "cache reload failed", err))
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tenant_id": tenantID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	services := map[string]string{
		"store": pingState(ctx, "store", s.storePing),
		"cache": pingState(ctx, "cache", s.cachePing),
	}
	overall, code := "ok", http.StatusOK
	for _, state := range services {
		if state == "down" {
			overall, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	s.writeJSON(w, code, map[string]any{"status": overall, "services": services})
}

func pingState(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "up"
	}
	if err := p.Ping(ctx); err != nil {
		log.Warnf("health: %s ping failed: %v", name, err)
		return "down"
	}
	return "up"
}

// ---- helpers ------------------------------------------------------------

type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the error envelope. Only the taxonomy message is
// exposed; raw causes stay in logs.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Status: "error", Code: string(status.CodeOf(err)), Message: "internal error"}
	var se *status.Error
	if errors.As(err, &se) {
		body.Message = se.Message
	}
	s.writeJSON(w, status.HTTPStatusOf(err), body)
}

func intQuery(q url.Values, name string, fallback int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, status.Newf(status.CodeInvalidArgument, "%s must be a non-negative integer", name)
	}
	return n, nil
}
