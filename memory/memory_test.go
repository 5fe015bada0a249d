//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/session"
)

type fakeService struct {
	session.Service

	gotSessionID     string
	gotLimit         int
	gotIncludeSystem bool
	messages         []*session.Message
	err              error
}

func (f *fakeService) RecentMessages(ctx context.Context, sessionID string, limit int, includeSystem bool) ([]*session.Message, error) {
	f.gotSessionID = sessionID
	f.gotLimit = limit
	f.gotIncludeSystem = includeSystem
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

func TestHistory_MapsRolesChronologically(t *testing.T) {
	svc := &fakeService{messages: []*session.Message{
		{ID: "m1", Role: model.RoleUser, Content: "giá cước đi Mỹ?"},
		{ID: "m2", Role: model.RoleAssistant, Content: "Tuyến nào ạ?"},
		{ID: "m3", Role: model.RoleUser, Content: "SGN-LAX"},
	}}
	m := New(svc)

	history := m.History(context.Background(), "sess-1", 0, false)
	require.Len(t, history, 3)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "giá cước đi Mỹ?", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, model.RoleUser, history[2].Role)

	assert.Equal(t, "sess-1", svc.gotSessionID)
	assert.Equal(t, DefaultMaxMessages, svc.gotLimit, "zero limit falls back to the default")
	assert.False(t, svc.gotIncludeSystem)
}

func TestHistory_ExplicitLimitAndSystem(t *testing.T) {
	svc := &fakeService{messages: []*session.Message{
		{ID: "m1", Role: model.RoleSystem, Content: "You are a freight assistant."},
		{ID: "m2", Role: model.RoleUser, Content: "hello"},
	}}
	m := New(svc, WithMaxMessages(4))

	history := m.History(context.Background(), "sess-1", 2, true)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleSystem, history[0].Role)
	assert.Equal(t, 2, svc.gotLimit)
	assert.True(t, svc.gotIncludeSystem)
}

func TestHistory_StorageFailureDegradesToEmpty(t *testing.T) {
	svc := &fakeService{err: errors.New("connection refused")}
	m := New(svc)

	history := m.History(context.Background(), "sess-1", 10, false)
	assert.Empty(t, history)
}

func TestHistory_SkipsUnknownRoles(t *testing.T) {
	svc := &fakeService{messages: []*session.Message{
		{ID: "m1", Role: model.RoleUser, Content: "hi"},
		{ID: "m2", Role: model.Role("tool"), Content: `{"price":120}`},
	}}
	m := New(svc)

	history := m.History(context.Background(), "sess-1", 10, false)
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
}

func TestHistory_EmptySessionID(t *testing.T) {
	svc := &fakeService{}
	m := New(svc)

	assert.Nil(t, m.History(context.Background(), "", 10, false))
	assert.Empty(t, svc.gotSessionID, "storage must not be touched without a session id")
}
