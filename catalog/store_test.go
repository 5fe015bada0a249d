//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/myle1996kh/ITL-PGVector-sub000/storage/postgres"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{client: storage.NewClient(db)}, mock
}

func TestGetTenant(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, name, active, created_at FROM tenants").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at"}).
			AddRow("tenant-1", "Acme", true, now))

	tenant, err := store.GetTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenant.ID)
	assert.Equal(t, "Acme", tenant.Name)
	assert.True(t, tenant.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, active, created_at FROM tenants").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at"}))

	_, err := store.GetTenant(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetBinding(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT tenant_id, llm_model_id, api_key_ciphertext, rate_limit_rpm, updated_at").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "llm_model_id", "api_key_ciphertext", "rate_limit_rpm", "updated_at"}).
			AddRow("tenant-1", "model-1", "c2VhbGVk", 120, now))

	binding, err := store.GetBinding(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "model-1", binding.LLMModelID)
	assert.Equal(t, "c2VhbGVk", binding.APIKeyCiphertext)
	assert.Equal(t, 120, binding.RateLimitRPM)

	mock.ExpectQuery("SELECT tenant_id, llm_model_id, api_key_ciphertext, rate_limit_rpm, updated_at").
		WithArgs("tenant-2").
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "llm_model_id", "api_key_ciphertext", "rate_limit_rpm", "updated_at"}))

	_, err = store.GetBinding(context.Background(), "tenant-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetProviderModel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, provider, model_name, context_window, input_cost_1k, output_cost_1k, active").
		WithArgs("model-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "provider", "model_name", "context_window", "input_cost_1k", "output_cost_1k", "active"}).
			AddRow("model-1", "openai", "gpt-4o-mini", 128000, 0.00015, 0.0006, true))

	m, err := store.GetProviderModel(context.Background(), "model-1")
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Provider)
	assert.Equal(t, "gpt-4o-mini", m.ModelName)
	assert.Equal(t, 128000, m.ContextWindow)
}

func TestListAuthorizedAgents(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM agent_specs a").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "description", "system_prompt", "llm_model_id", "handler_class", "active"}).
			AddRow("agent-1", "billing", "Handles invoices and payments", "You are a billing assistant.", "model-1", "handlers.billing.BillingExecutor", true).
			AddRow("agent-2", "support", "Answers product questions", "You are a support assistant.", nil, "", true))

	agents, err := store.ListAuthorizedAgents(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "billing", agents[0].Name)
	assert.Equal(t, "handlers.billing.BillingExecutor", agents[0].HandlerClass)
	assert.Equal(t, "support", agents[1].Name)
	assert.Empty(t, agents[1].LLMModelID)
}

func TestListAgentTools(t *testing.T) {
	store, mock := newMockStore(t)

	headers, err := json.Marshal(map[string]string{"X-Api-Version": "2024-01"})
	require.NoError(t, err)
	schema := []byte(`{"type":"object","properties":{"invoice_id":{"type":"string"}},"required":["invoice_id"]}`)

	mock.ExpectQuery("FROM agent_tools at").
		WithArgs("agent-1", 5).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "description", "kind", "endpoint_template", "static_headers",
				"body_template", "timeout_seconds", "input_schema", "output_format", "active", "priority"}).
			AddRow("tool-1", "get_invoice", "Fetch an invoice", "HTTP_GET",
				"https://api.example.com/invoices/{invoice_id}", headers, "", 30, schema, "json", true, 0).
			AddRow("tool-2", "kb_search", "Search the knowledge base", "RAG",
				"", nil, "", 0, []byte(`{"type":"object"}`), "json", true, 1))

	rows, err := store.ListAgentTools(context.Background(), "agent-1", 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, 0, first.Priority)
	assert.Equal(t, "get_invoice", first.Tool.Name)
	assert.Equal(t, ToolKindHTTPGet, first.Tool.Kind)
	assert.Equal(t, map[string]string{"X-Api-Version": "2024-01"}, first.Tool.StaticHeaders)
	assert.JSONEq(t, string(schema), string(first.Tool.InputSchema))
	assert.Equal(t, 30*time.Second, first.Tool.Timeout(10*time.Second))

	second := rows[1]
	assert.Equal(t, ToolKindRAG, second.Tool.Kind)
	assert.Nil(t, second.Tool.StaticHeaders)
	assert.Equal(t, 10*time.Second, second.Tool.Timeout(10*time.Second))
}

func TestToolGranted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT enabled FROM tenant_tool_grants").
		WithArgs("tenant-1", "tool-1").
		WillReturnRows(sqlmock.NewRows([]string{"enabled"}).AddRow(true))
	granted, err := store.ToolGranted(context.Background(), "tenant-1", "tool-1")
	require.NoError(t, err)
	assert.True(t, granted)

	// Missing grant row means not granted, not an error.
	mock.ExpectQuery("SELECT enabled FROM tenant_tool_grants").
		WithArgs("tenant-1", "tool-2").
		WillReturnRows(sqlmock.NewRows([]string{"enabled"}))
	granted, err = store.ToolGranted(context.Background(), "tenant-1", "tool-2")
	require.NoError(t, err)
	assert.False(t, granted)

	mock.ExpectQuery("SELECT enabled FROM tenant_tool_grants").
		WithArgs("tenant-1", "tool-3").
		WillReturnRows(sqlmock.NewRows([]string{"enabled"}).AddRow(false))
	granted, err = store.ToolGranted(context.Background(), "tenant-1", "tool-3")
	require.NoError(t, err)
	assert.False(t, granted)
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
