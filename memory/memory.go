//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package memory reconstructs bounded conversation history from persisted
// messages for prompting. Memory is best-effort: a storage failure returns
// empty history rather than failing the request.
package memory

import (
	"context"

	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/session"
)

// DefaultMaxMessages bounds history when the caller does not.
const DefaultMaxMessages = 10

// Memory loads recent session messages as model messages.
type Memory struct {
	service     session.Service
	maxMessages int
}

// Option configures New.
type Option func(*Memory)

// WithMaxMessages overrides the default history bound.
func WithMaxMessages(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.maxMessages = n
		}
	}
}

// New creates a Memory over the session service.
func New(service session.Service, opts ...Option) *Memory {
	m := &Memory{
		service:     service,
		maxMessages: DefaultMaxMessages,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// History returns up to maxMessages of the session's newest messages in
// chronological order, typed by role. maxMessages <= 0 falls back to the
// configured bound. System messages are excluded unless includeSystem is
// set. On storage failure the history is empty, never an error.
func (m *Memory) History(ctx context.Context, sessionID string, maxMessages int, includeSystem bool) []model.Message {
	if sessionID == "" {
		return nil
	}
	if maxMessages <= 0 {
		maxMessages = m.maxMessages
	}

	stored, err := m.service.RecentMessages(ctx, sessionID, maxMessages, includeSystem)
	if err != nil {
		log.Warnf("history for session %s degraded to empty: %v", sessionID, err)
		return nil
	}

	history := make([]model.Message, 0, len(stored))
	for _, msg := range stored {
		switch msg.Role {
		case model.RoleUser:
			history = append(history, model.NewUserMessage(msg.Content))
		case model.RoleAssistant:
			history = append(history, model.NewAssistantMessage(msg.Content))
		case model.RoleSystem:
			history = append(history, model.NewSystemMessage(msg.Content))
		default:
			// Tool messages are transient and never persisted; anything
			// else here is a foreign row we refuse to prompt with.
			log.Warnf("session %s: skipping message %s with role %q", sessionID, msg.ID, msg.Role)
		}
	}
	return history
}
