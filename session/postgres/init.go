//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package postgres

import (
	"context"
	"fmt"
	"strings"

	storage "github.com/myle1996kh/ITL-PGVector-sub000/storage/postgres"
)

// Table names
const (
	tableNameSessions = "chat_sessions"
	tableNameMessages = "chat_messages"
)

// Index suffixes
const (
	indexSuffixUserActivity = "user_activity"
	indexSuffixSessionOrder = "session_order"
	indexSuffixUniqueThread = "unique_thread"
)

// SQL templates for table creation. The messages table carries a seq column
// so same-timestamp rows keep their insert order.
const (
	sqlCreateSessionsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			last_agent VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_activity_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateMessagesTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id UUID PRIMARY KEY,
			seq BIGSERIAL,
			session_id UUID NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			metadata JSONB DEFAULT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	// chat_sessions: listing scan (newest activity first within a user)
	sqlCreateSessionsUserActivityIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(tenant_id, user_id, last_activity_at DESC)`

	// chat_sessions: one session per thread id
	sqlCreateSessionsUniqueThreadIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(thread_id)`

	// chat_messages: history scan in insert order
	sqlCreateMessagesSessionOrderIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(session_id, created_at, seq)`
)

type tableDefinition struct {
	name     string
	template string
}

type indexDefinition struct {
	table    string
	suffix   string
	template string
}

// Table creation order respects foreign key references; chat_sessions
// references tenants, so the catalog schema must be initialized first.
var tableDefs = []tableDefinition{
	{tableNameSessions, sqlCreateSessionsTable},
	{tableNameMessages, sqlCreateMessagesTable},
}

var indexDefs = []indexDefinition{
	{tableNameSessions, indexSuffixUserActivity, sqlCreateSessionsUserActivityIndex},
	{tableNameSessions, indexSuffixUniqueThread, sqlCreateSessionsUniqueThreadIndex},
	{tableNameMessages, indexSuffixSessionOrder, sqlCreateMessagesSessionOrderIndex},
}

func buildCreateTableSQL(tableName, template string) string {
	return strings.ReplaceAll(template, "{{TABLE_NAME}}", tableName)
}

func buildIndexName(tableName, suffix string) string {
	return fmt.Sprintf("idx_%s_%s", tableName, suffix)
}

func buildIndexSQL(tableName, suffix, template string) string {
	sql := strings.ReplaceAll(template, "{{TABLE_NAME}}", tableName)
	return strings.ReplaceAll(sql, "{{INDEX_NAME}}", buildIndexName(tableName, suffix))
}

// InitSchema creates the session tables and indexes if they do not exist.
// It is idempotent and safe to run at every startup.
func InitSchema(ctx context.Context, client storage.Client) error {
	for _, table := range tableDefs {
		tableSQL := buildCreateTableSQL(table.name, table.template)
		if _, err := client.ExecContext(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s failed: %w", table.name, err)
		}
	}
	for _, idx := range indexDefs {
		indexSQL := buildIndexSQL(idx.table, idx.suffix, idx.template)
		if _, err := client.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index on %s failed: %w", idx.table, err)
		}
	}
	return nil
}
