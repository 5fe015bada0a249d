//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package orchestrator ties one chat request together: tenant and
// session checks, per-session serialization, message persistence and
// the routing call. It owns the request deadline; everything below it
// inherits the same context.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/myle1996kh/ITL-PGVector-sub000/cache"
	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/session"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
	"github.com/myle1996kh/ITL-PGVector-sub000/supervisor"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

// DefaultRequestTimeout bounds one chat request end to end, LLM rounds
// and tool calls included.
const DefaultRequestTimeout = 60 * time.Second

// ChatRequest is one inbound chat turn. Bearer is the raw token from
// the authorization header; it is forwarded to tools through the
// request context and must never be logged or persisted.
type ChatRequest struct {
	TenantID  string
	UserID    string
	SessionID string
	Message   string
	Metadata  map[string]any
	Bearer    string
}

// ChatResponse is the chat surface reply.
type ChatResponse struct {
	SessionID string         `json:"session_id"`
	MessageID string         `json:"message_id"`
	Response  string         `json:"response"`
	Agent     string         `json:"agent,omitempty"`
	Intent    string         `json:"intent"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionDetail is a session with its messages, oldest first.
type SessionDetail struct {
	Session  *session.Session   `json:"session"`
	Messages []*session.Message `json:"messages"`
}

// Router routes one user turn. *supervisor.Router is the production
// implementation.
type Router interface {
	Route(ctx context.Context, req *supervisor.Request) (*supervisor.Outcome, error)
}

// Orchestrator handles chat requests end to end.
type Orchestrator struct {
	store       catalog.Store
	sessions    session.Service
	router      Router
	locks       *cache.SessionLock
	timeout     time.Duration
	disableAuth bool
	testBearer  string
}

// Option configures New.
type Option func(*Orchestrator)

// WithSessionLock enables per-session serialization. Without it,
// concurrent requests for one session can interleave; only tests run
// that way.
func WithSessionLock(l *cache.SessionLock) Option {
	return func(o *Orchestrator) {
		o.locks = l
	}
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTestAuth disables bearer enforcement and substitutes the given
// token on outbound tool calls when the request carries none.
func WithTestAuth(testBearer string) Option {
	return func(o *Orchestrator) {
		o.disableAuth = true
		o.testBearer = testBearer
	}
}

// New creates an Orchestrator.
func New(store catalog.Store, sessions session.Service, router Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		sessions: sessions,
		router:   router,
		timeout:  DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle processes one chat turn. The user message is persisted before
// routing; the assistant message is persisted only when routing
// succeeds, so a cancelled or failed request leaves the user turn as
// the last row.
func (o *Orchestrator) Handle(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, status.New(status.CodeInvalidArgument, "request cannot be nil")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, status.New(status.CodeInvalidArgument, "message must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if _, err := o.activeTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}

	bearer := req.Bearer
	if bearer == "" && o.disableAuth {
		bearer = o.testBearer
	}
	ctx = tool.ContextWithTenant(ctx, req.TenantID)
	if bearer != "" {
		ctx = tool.ContextWithBearer(ctx, bearer)
	}

	// An existing session is locked before its user message is written;
	// a fresh session cannot be contended until its id is returned, so
	// it is locked right after creation.
	var release func()
	if o.locks != nil && req.SessionID != "" {
		r, err := o.locks.Acquire(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		release = r
		defer release()
	}

	key := session.Key{TenantID: req.TenantID, UserID: req.UserID, SessionID: req.SessionID}
	sess, _, err := o.sessions.OpenTurn(ctx, key, req.Message, req.Metadata)
	if err != nil {
		return nil, mapSessionError(err)
	}
	if o.locks != nil && release == nil {
		r, err := o.locks.Acquire(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		defer r()
	}

	out, err := o.router.Route(ctx, &supervisor.Request{
		TenantID:  req.TenantID,
		SessionID: sess.ID,
		UserText:  req.Message,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warnf("chat turn for session %s ended early: %v", sess.ID, err)
		}
		return nil, err
	}

	meta := buildMetadata(out)
	msg, err := o.sessions.AppendAssistantMessage(ctx, sess, out.Text, meta)
	if err != nil {
		return nil, status.Wrap(status.CodeStoreError, "persist assistant message failed", err)
	}

	resp := &ChatResponse{
		SessionID: sess.ID,
		MessageID: msg.ID,
		Response:  out.Text,
		Intent:    out.Intent,
		Metadata:  meta,
	}
	if out.Agent != nil {
		resp.Agent = out.Agent.Name
	}
	return resp, nil
}

// ListSessions pages a user's sessions for the read surface.
func (o *Orchestrator) ListSessions(ctx context.Context, tenantID, userID string, limit, offset int) ([]*session.Session, int, error) {
	if _, err := o.activeTenant(ctx, tenantID); err != nil {
		return nil, 0, err
	}
	sessions, total, err := o.sessions.ListSessions(ctx, tenantID, userID, limit, offset)
	if err != nil {
		return nil, 0, status.Wrap(status.CodeStoreError, "list sessions failed", err)
	}
	return sessions, total, nil
}

// GetSessionDetail returns one session with its full message history.
func (o *Orchestrator) GetSessionDetail(ctx context.Context, tenantID, sessionID string) (*SessionDetail, error) {
	if _, err := o.activeTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	sess, err := o.sessions.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	messages, err := o.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, status.Wrap(status.CodeStoreError, "list session messages failed", err)
	}
	return &SessionDetail{Session: sess, Messages: messages}, nil
}

// activeTenant loads the tenant and rejects unknown or deactivated ones.
func (o *Orchestrator) activeTenant(ctx context.Context, tenantID string) (*catalog.Tenant, error) {
	tenant, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		if catalog.IsNotFound(err) {
			return nil, status.Newf(status.CodeTenantUnknown, "tenant %s is not registered", tenantID)
		}
		return nil, status.Wrap(status.CodeStoreError, "load tenant failed", err)
	}
	if !tenant.Active {
		return nil, status.Newf(status.CodeTenantInactive, "tenant %s is deactivated", tenantID)
	}
	return tenant, nil
}

// mapSessionError translates session sentinel errors into the taxonomy.
func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return status.Wrap(status.CodeSessionNotFound, "session does not exist", err)
	case errors.Is(err, session.ErrTenantMismatch):
		return status.Wrap(status.CodeTenantMismatch, "session belongs to another tenant", err)
	case errors.Is(err, session.ErrTenantIDRequired), errors.Is(err, session.ErrUserIDRequired):
		return status.Wrap(status.CodeInvalidArgument, "tenant and user are required", err)
	default:
		return status.Wrap(status.CodeStoreError, "session operation failed", err)
	}
}

// buildMetadata flattens an outcome into the provenance record stored
// on the assistant message.
func buildMetadata(out *supervisor.Outcome) map[string]any {
	meta := map[string]any{
		session.MetaKeyIntent:   out.Intent,
		session.MetaKeyLanguage: out.Language,
	}
	if out.Clarification() {
		return meta
	}
	meta[session.MetaKeyAgent] = out.Agent.Name
	meta[session.MetaKeyToolCalls] = out.Result.ToolCallsMade
	meta[session.MetaKeyLLMModel] = out.Result.LLMModel
	meta[session.MetaKeyDurationMS] = out.Result.DurationMS
	if len(out.Result.Entities) > 0 {
		meta[session.MetaKeyEntities] = out.Result.Entities
	}
	if out.Result.TotalTokens > 0 {
		meta[session.MetaKeyTotalTokens] = out.Result.TotalTokens
	}
	if out.Result.Overflow {
		meta[session.MetaKeyOverflow] = true
	}
	return meta
}
