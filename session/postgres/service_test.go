//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/session"
	storage "github.com/myle1996kh/ITL-PGVector-sub000/storage/postgres"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Service{
		client: storage.NewClient(db),
		now:    func() time.Time { return fixedNow },
	}, mock
}

func sessionColumns() []string {
	return []string{"id", "tenant_id", "user_id", "thread_id", "last_agent", "created_at", "last_activity_at"}
}

func messageColumns() []string {
	return []string{"id", "session_id", "role", "content", "metadata", "created_at"}
}

func TestOpenTurn_CreatesSessionWithUserMessage(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_sessions").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "user-9", sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "user", "giá cước đi Mỹ?", nil, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE chat_sessions SET last_activity_at").
		WithArgs(sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sess, msg, err := svc.OpenTurn(context.Background(),
		session.Key{TenantID: "tenant-1", UserID: "user-9"}, "giá cước đi Mỹ?", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "tenant-1", sess.TenantID)
	assert.Equal(t, "user-9", sess.UserID)
	assert.Equal(t, "tenant:tenant-1__user:user-9__session:"+sess.ID, sess.ThreadID)
	assert.Equal(t, fixedNow, sess.LastActivityAt)

	assert.Equal(t, sess.ID, msg.SessionID)
	assert.Equal(t, model.RoleUser, msg.Role)
	assert.Equal(t, "giá cước đi Mỹ?", msg.Content)
}

func TestOpenTurn_ResolvesExistingSession(t *testing.T) {
	svc, mock := newMockService(t)
	createdAt := fixedNow.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM chat_sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("sess-1", "tenant-1", "user-9",
				"tenant:tenant-1__user:user-9__session:sess-1", "pricing", createdAt, createdAt))
	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), "sess-1", "user", "còn tuyến Nhật?", []byte(`{"channel":"web"}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE chat_sessions SET last_activity_at").
		WithArgs("sess-1", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sess, msg, err := svc.OpenTurn(context.Background(),
		session.Key{TenantID: "tenant-1", UserID: "user-9", SessionID: "sess-1"},
		"còn tuyến Nhật?", map[string]any{"channel": "web"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "pricing", sess.LastAgent)
	assert.Equal(t, fixedNow, sess.LastActivityAt)
	assert.Equal(t, "sess-1", msg.SessionID)
}

func TestOpenTurn_TenantMismatchRollsBack(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM chat_sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("sess-1", "tenant-2", "user-9", "t", "", fixedNow, fixedNow))
	mock.ExpectRollback()

	_, _, err := svc.OpenTurn(context.Background(),
		session.Key{TenantID: "tenant-1", UserID: "user-9", SessionID: "sess-1"}, "hello", nil)
	require.ErrorIs(t, err, session.ErrTenantMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenTurn_UnknownSession(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM chat_sessions WHERE id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(sessionColumns()))
	mock.ExpectRollback()

	_, _, err := svc.OpenTurn(context.Background(),
		session.Key{TenantID: "tenant-1", UserID: "user-9", SessionID: "ghost"}, "hello", nil)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestOpenTurn_RequiresUserKey(t *testing.T) {
	svc, _ := newMockService(t)

	_, _, err := svc.OpenTurn(context.Background(), session.Key{TenantID: "tenant-1"}, "hello", nil)
	require.ErrorIs(t, err, session.ErrUserIDRequired)

	_, _, err = svc.OpenTurn(context.Background(), session.Key{UserID: "user-9"}, "hello", nil)
	require.ErrorIs(t, err, session.ErrTenantIDRequired)
}

func TestAppendAssistantMessage(t *testing.T) {
	svc, mock := newMockService(t)
	sess := &session.Session{ID: "sess-1", TenantID: "tenant-1", UserID: "user-9"}
	metadata := map[string]any{
		session.MetaKeyAgent:     "pricing",
		session.MetaKeyToolCalls: []string{"get_quote"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), "sess-1", "assistant", "Giá cước là 120 USD.",
			[]byte(`{"agent":"pricing","tool_calls":["get_quote"]}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE chat_sessions SET last_activity_at").
		WithArgs("sess-1", fixedNow, "pricing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := svc.AppendAssistantMessage(context.Background(), sess, "Giá cước là 120 USD.", metadata)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "pricing", sess.LastAgent)
	assert.Equal(t, fixedNow, sess.LastActivityAt)
}

func TestAppendAssistantMessage_InsertFailureRollsBack(t *testing.T) {
	svc, mock := newMockService(t)
	sess := &session.Session{ID: "sess-1", TenantID: "tenant-1"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := svc.AppendAssistantMessage(context.Background(), sess, "text", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert assistant message failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("FROM chat_sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("sess-1", "tenant-1", "user-9", "t", "support", fixedNow, fixedNow))

	sess, err := svc.GetSession(context.Background(), "tenant-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "support", sess.LastAgent)

	mock.ExpectQuery("FROM chat_sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("sess-1", "tenant-2", "user-9", "t", "", fixedNow, fixedNow))

	_, err = svc.GetSession(context.Background(), "tenant-1", "sess-1")
	require.ErrorIs(t, err, session.ErrTenantMismatch)

	mock.ExpectQuery("FROM chat_sessions WHERE id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(sessionColumns()))

	_, err = svc.GetSession(context.Background(), "tenant-1", "ghost")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestListSessions(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("tenant-1", "user-9").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("FROM chat_sessions").
		WithArgs("tenant-1", "user-9", 2, 2).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("sess-3", "tenant-1", "user-9", "t3", "", fixedNow, fixedNow).
			AddRow("sess-2", "tenant-1", "user-9", "t2", "", fixedNow, fixedNow.Add(-time.Minute)))

	sessions, total, err := svc.ListSessions(context.Background(), "tenant-1", "user-9", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-3", sessions[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessages(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("FROM chat_messages").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(messageColumns()).
			AddRow("msg-1", "sess-1", "user", "giá cước?", nil, fixedNow).
			AddRow("msg-2", "sess-1", "assistant", "120 USD.",
				[]byte(`{"agent":"pricing","duration_ms":812}`), fixedNow.Add(time.Second)))

	messages, err := svc.ListMessages(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Nil(t, messages[0].Metadata)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "pricing", messages[1].Metadata[session.MetaKeyAgent])
	assert.Equal(t, float64(812), messages[1].Metadata[session.MetaKeyDurationMS])
}

func TestRecentMessages_ReversesToChronological(t *testing.T) {
	svc, mock := newMockService(t)

	// The query returns newest first; callers get chronological order.
	mock.ExpectQuery("FROM chat_messages").
		WithArgs("sess-1", 3).
		WillReturnRows(sqlmock.NewRows(messageColumns()).
			AddRow("msg-3", "sess-1", "assistant", "third", nil, fixedNow.Add(2*time.Second)).
			AddRow("msg-2", "sess-1", "user", "second", nil, fixedNow.Add(time.Second)).
			AddRow("msg-1", "sess-1", "assistant", "first", nil, fixedNow))

	messages, err := svc.RecentMessages(context.Background(), "sess-1", 3, false)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
}

func TestRecentMessages_ZeroLimit(t *testing.T) {
	svc, _ := newMockService(t)

	messages, err := svc.RecentMessages(context.Background(), "sess-1", 0, false)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range tableDefs {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table.name).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for _, idx := range indexDefs {
		mock.ExpectExec("INDEX IF NOT EXISTS " + buildIndexName(idx.table, idx.suffix)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, InitSchema(context.Background(), storage.NewClient(db)))
	require.NoError(t, mock.ExpectationsWereMet())
}
