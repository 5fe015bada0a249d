//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package postgres implements session.Service on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/session"
	storage "github.com/myle1996kh/ITL-PGVector-sub000/storage/postgres"
)

// Service is the postgres-backed session.Service.
type Service struct {
	client storage.Client
	now    func() time.Time
}

type options struct {
	connString   string
	instanceName string
	client       storage.Client
	extraOptions []any
}

// Option configures NewService.
type Option func(*options)

// WithConnString sets the postgres connection string.
func WithConnString(connString string) Option {
	return func(o *options) {
		o.connString = connString
	}
}

// WithInstanceName selects a postgres instance registered in storage.
func WithInstanceName(name string) Option {
	return func(o *options) {
		o.instanceName = name
	}
}

// WithClient reuses an existing postgres client instead of building one.
func WithClient(client storage.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithExtraOptions passes extra options to a customized client builder.
func WithExtraOptions(extraOptions ...any) Option {
	return func(o *options) {
		o.extraOptions = append(o.extraOptions, extraOptions...)
	}
}

// NewService creates a session service. Priority: injected client > direct
// connection string > registered instance name.
func NewService(ctx context.Context, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.client != nil {
		return &Service{client: o.client, now: time.Now}, nil
	}

	builder := storage.GetClientBuilder()
	switch {
	case o.connString != "":
		client, err := builder(ctx,
			storage.WithClientConnString(o.connString),
			storage.WithExtraOptions(o.extraOptions...),
		)
		if err != nil {
			return nil, fmt.Errorf("create postgres client from connection settings failed: %w", err)
		}
		return &Service{client: client, now: time.Now}, nil
	case o.instanceName != "":
		builderOpts, ok := storage.GetPostgresInstance(o.instanceName)
		if !ok {
			return nil, fmt.Errorf("postgres instance %s not found", o.instanceName)
		}
		client, err := builder(ctx, builderOpts...)
		if err != nil {
			return nil, fmt.Errorf("create postgres client from instance name failed: %w", err)
		}
		return &Service{client: client, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("either client, connection string or instance name must be provided")
	}
}

// Close implements session.Service.
func (s *Service) Close() error {
	return s.client.Close()
}

// OpenTurn implements session.Service. Resolving (or creating) the session
// and inserting the user message share one transaction so a failed insert
// never leaves a dangling empty session.
func (s *Service) OpenTurn(ctx context.Context, key session.Key, userText string, metadata map[string]any) (*session.Session, *session.Message, error) {
	if err := key.CheckUserKey(); err != nil {
		return nil, nil, err
	}

	var (
		sess *session.Session
		msg  *session.Message
	)
	err := s.client.Transaction(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()

		if key.SessionID == "" {
			key.SessionID = uuid.NewString()
			created := &session.Session{
				ID:             key.SessionID,
				TenantID:       key.TenantID,
				UserID:         key.UserID,
				ThreadID:       key.ThreadID(),
				CreatedAt:      now,
				LastActivityAt: now,
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chat_sessions (id, tenant_id, user_id, thread_id, last_agent, created_at, last_activity_at)
				 VALUES ($1, $2, $3, $4, '', $5, $5)`,
				created.ID, created.TenantID, created.UserID, created.ThreadID, now); err != nil {
				return fmt.Errorf("insert session failed: %w", err)
			}
			sess = created
		} else {
			found, err := scanSessionRow(tx.QueryRowContext(ctx,
				`SELECT id, tenant_id, user_id, thread_id, last_agent, created_at, last_activity_at
				 FROM chat_sessions WHERE id = $1`, key.SessionID))
			if errors.Is(err, sql.ErrNoRows) {
				return session.ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("query session failed: %w", err)
			}
			if found.TenantID != key.TenantID {
				return session.ErrTenantMismatch
			}
			sess = found
		}

		inserted, err := s.insertMessage(ctx, tx, sess.ID, model.RoleUser, userText, metadata, now)
		if err != nil {
			return err
		}
		msg = inserted

		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_sessions SET last_activity_at = $2 WHERE id = $1`,
			sess.ID, now); err != nil {
			return fmt.Errorf("touch session failed: %w", err)
		}
		sess.LastActivityAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, msg, nil
}

// AppendAssistantMessage implements session.Service.
func (s *Service) AppendAssistantMessage(ctx context.Context, sess *session.Session, text string, metadata map[string]any) (*session.Message, error) {
	if sess == nil || sess.ID == "" {
		return nil, session.ErrSessionNotFound
	}

	lastAgent := sess.LastAgent
	if agent, ok := metadata[session.MetaKeyAgent].(string); ok && agent != "" {
		lastAgent = agent
	}

	var msg *session.Message
	err := s.client.Transaction(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		inserted, err := s.insertMessage(ctx, tx, sess.ID, model.RoleAssistant, text, metadata, now)
		if err != nil {
			return err
		}
		msg = inserted

		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_sessions SET last_activity_at = $2, last_agent = $3 WHERE id = $1`,
			sess.ID, now, lastAgent); err != nil {
			return fmt.Errorf("touch session failed: %w", err)
		}
		sess.LastActivityAt = now
		sess.LastAgent = lastAgent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, role model.Role,
	content string, metadata map[string]any, now time.Time) (*session.Message, error) {
	msg := &session.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
	}

	var metadataJSON any
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal message metadata failed: %w", err)
		}
		metadataJSON = raw
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, metadataJSON, now); err != nil {
		return nil, fmt.Errorf("insert %s message failed: %w", role, err)
	}
	return msg, nil
}

// GetSession implements session.Service.
func (s *Service) GetSession(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	var sess *session.Session
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		found, err := scanSession(rows)
		if err != nil {
			return err
		}
		sess = found
		return nil
	}, `SELECT id, tenant_id, user_id, thread_id, last_agent, created_at, last_activity_at
		FROM chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session failed: %w", err)
	}
	if sess == nil {
		return nil, session.ErrSessionNotFound
	}
	if sess.TenantID != tenantID {
		return nil, session.ErrTenantMismatch
	}
	return sess, nil
}

// ListSessions implements session.Service.
func (s *Service) ListSessions(ctx context.Context, tenantID, userID string, limit, offset int) ([]*session.Session, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	total := 0
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		return rows.Scan(&total)
	}, `SELECT COUNT(*) FROM chat_sessions WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count sessions failed: %w", err)
	}

	var sessions []*session.Session
	err = s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return err
			}
			sessions = append(sessions, sess)
		}
		return nil
	}, `SELECT id, tenant_id, user_id, thread_id, last_agent, created_at, last_activity_at
		FROM chat_sessions
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY last_activity_at DESC
		LIMIT $3 OFFSET $4`, tenantID, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query sessions failed: %w", err)
	}
	return sessions, total, nil
}

// ListMessages implements session.Service.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]*session.Message, error) {
	var messages []*session.Message
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	}, `SELECT id, session_id, role, content, metadata, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages failed: %w", err)
	}
	return messages, nil
}

// RecentMessages implements session.Service. The newest rows are fetched in
// reverse order and flipped so callers always see chronological history.
func (s *Service) RecentMessages(ctx context.Context, sessionID string, limit int, includeSystem bool) ([]*session.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT id, session_id, role, content, metadata, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`
	if !includeSystem {
		query = `SELECT id, session_id, role, content, metadata, created_at
		FROM chat_messages
		WHERE session_id = $1 AND role <> 'system'
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`
	}

	var newestFirst []*session.Message
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				return err
			}
			newestFirst = append(newestFirst, msg)
		}
		return nil
	}, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages failed: %w", err)
	}

	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner rowScanner) (*session.Session, error) {
	var sess session.Session
	if err := scanner.Scan(&sess.ID, &sess.TenantID, &sess.UserID, &sess.ThreadID,
		&sess.LastAgent, &sess.CreatedAt, &sess.LastActivityAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanSessionRow(row *sql.Row) (*session.Session, error) {
	return scanSession(row)
}

func scanMessage(scanner rowScanner) (*session.Message, error) {
	var (
		msg          session.Message
		role         string
		metadataJSON []byte
	)
	if err := scanner.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content,
		&metadataJSON, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Role = model.Role(role)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for message %s failed: %w", msg.ID, err)
		}
	}
	return &msg, nil
}
