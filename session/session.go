//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package session defines the conversation containers: a Session groups the
// ordered, append-only Messages of one tenant user, and Service is the
// persistence contract the orchestrator and memory layers depend on.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
)

var (
	// ErrTenantIDRequired is returned when a key lacks the tenant id.
	ErrTenantIDRequired = errors.New("tenantID is required")
	// ErrUserIDRequired is returned when a key lacks the user id.
	ErrUserIDRequired = errors.New("userID is required")
	// ErrSessionNotFound is returned when the session id resolves to nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTenantMismatch is returned when a session exists but belongs to a
	// different tenant than the request claims.
	ErrTenantMismatch = errors.New("session belongs to a different tenant")
)

// Metadata keys recorded on assistant messages. Readers must tolerate
// unknown keys.
const (
	MetaKeyAgent       = "agent"
	MetaKeyIntent      = "intent"
	MetaKeyToolCalls   = "tool_calls"
	MetaKeyEntities    = "entities"
	MetaKeyLLMModel    = "llm_model"
	MetaKeyDurationMS  = "duration_ms"
	MetaKeyTotalTokens = "total_tokens"
	MetaKeyLanguage    = "language"
	MetaKeyOverflow    = "overflow"
)

// Key identifies one session within a tenant.
type Key struct {
	TenantID  string
	UserID    string
	SessionID string
}

// CheckUserKey validates the tenant/user part of the key.
func (k Key) CheckUserKey() error {
	if k.TenantID == "" {
		return ErrTenantIDRequired
	}
	if k.UserID == "" {
		return ErrUserIDRequired
	}
	return nil
}

// ThreadID renders the external correlation id for the session.
func (k Key) ThreadID() string {
	return fmt.Sprintf("tenant:%s__user:%s__session:%s", k.TenantID, k.UserID, k.SessionID)
}

// Session is the conversation container. Sessions are created on the first
// request that carries no session id and retained indefinitely.
type Session struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	UserID         string    `json:"user_id"`
	ThreadID       string    `json:"thread_id"`
	LastAgent      string    `json:"last_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Key rebuilds the session's key.
func (s *Session) Key() Key {
	return Key{TenantID: s.TenantID, UserID: s.UserID, SessionID: s.ID}
}

// Message is one append-only conversation entry. Ordering within a session
// follows the creation timestamp, which is monotonic on the writer.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      model.Role     `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Service persists sessions and messages. Implementations must keep
// messages append-only and scope every read by tenant where the signature
// carries one.
type Service interface {
	// OpenTurn resolves the session named by key.SessionID (verifying
	// tenant ownership) or creates a fresh one when the id is empty, and
	// persists the inbound user message. Both happen in one transaction.
	OpenTurn(ctx context.Context, key Key, userText string, metadata map[string]any) (*Session, *Message, error)

	// AppendAssistantMessage persists the assistant reply in its own
	// transaction, bumping the session's last activity and last agent.
	AppendAssistantMessage(ctx context.Context, sess *Session, text string, metadata map[string]any) (*Message, error)

	// GetSession fetches one session, enforcing tenant ownership.
	GetSession(ctx context.Context, tenantID, sessionID string) (*Session, error)

	// ListSessions pages a user's sessions, most recently active first,
	// and reports the total count.
	ListSessions(ctx context.Context, tenantID, userID string, limit, offset int) ([]*Session, int, error)

	// ListMessages returns every message of the session in chronological
	// order. Ownership is checked by the caller via GetSession.
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// RecentMessages returns the newest limit messages in chronological
	// order, excluding system messages unless includeSystem is set.
	RecentMessages(ctx context.Context, sessionID string, limit int, includeSystem bool) ([]*Message, error)

	// Close releases the underlying storage.
	Close() error
}
