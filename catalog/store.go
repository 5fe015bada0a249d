//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	storage "github.com/myle1996kh/ITL-PGVector-sub000/storage/postgres"
)

// PostgresStore is the postgres-backed Store.
type PostgresStore struct {
	client storage.Client
}

type options struct {
	connString   string
	instanceName string
	client       storage.Client
	extraOptions []any
}

// Option configures NewPostgresStore.
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

// NewPostgresStore creates a catalog store. Priority: injected client >
// direct connection string > registered instance name.
func NewPostgresStore(ctx context.Context, opts ...Option) (*PostgresStore, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.client != nil {
		return &PostgresStore{client: o.client}, nil
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
		return &PostgresStore{client: client}, nil
	case o.instanceName != "":
		builderOpts, ok := storage.GetPostgresInstance(o.instanceName)
		if !ok {
			return nil, fmt.Errorf("postgres instance %s not found", o.instanceName)
		}
		client, err := builder(ctx, builderOpts...)
		if err != nil {
			return nil, fmt.Errorf("create postgres client from instance name failed: %w", err)
		}
		return &PostgresStore{client: client}, nil
	default:
		return nil, fmt.Errorf("either client, connection string or instance name must be provided")
	}
}

// Close releases the underlying client.
func (s *PostgresStore) Close() error {
	return s.client.Close()
}

// GetTenant implements Store.
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	found := false
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		found = true
		return rows.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt)
	}, `SELECT id, name, active, created_at FROM tenants WHERE id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tenant failed: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &t, nil
}

// GetBinding implements Store.
func (s *PostgresStore) GetBinding(ctx context.Context, tenantID string) (*TenantLLMBinding, error) {
	var b TenantLLMBinding
	found := false
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		found = true
		return rows.Scan(&b.TenantID, &b.LLMModelID, &b.APIKeyCiphertext, &b.RateLimitRPM, &b.UpdatedAt)
	}, `SELECT tenant_id, llm_model_id, api_key_ciphertext, rate_limit_rpm, updated_at
		FROM tenant_llm_bindings WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query llm binding failed: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &b, nil
}

// GetProviderModel implements Store.
func (s *PostgresStore) GetProviderModel(ctx context.Context, modelID string) (*LLMProviderModel, error) {
	var m LLMProviderModel
	found := false
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		found = true
		return rows.Scan(&m.ID, &m.Provider, &m.ModelName, &m.ContextWindow,
			&m.InputCost1K, &m.OutputCost1K, &m.Active)
	}, `SELECT id, provider, model_name, context_window, input_cost_1k, output_cost_1k, active
		FROM llm_provider_models WHERE id = $1`, modelID)
	if err != nil {
		return nil, fmt.Errorf("query provider model failed: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &m, nil
}

// ListAuthorizedAgents implements Store.
func (s *PostgresStore) ListAuthorizedAgents(ctx context.Context, tenantID string) ([]*AgentSpec, error) {
	var agents []*AgentSpec
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			agent, err := scanAgent(rows)
			if err != nil {
				return err
			}
			agents = append(agents, agent)
		}
		return nil
	}, `SELECT a.id, a.name, a.description, a.system_prompt, a.llm_model_id, a.handler_class, a.active
		FROM agent_specs a
		JOIN tenant_agent_grants g ON g.agent_id = a.id
		WHERE g.tenant_id = $1 AND g.enabled = TRUE AND a.active = TRUE
		ORDER BY a.name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query authorized agents failed: %w", err)
	}
	return agents, nil
}

func scanAgent(rows *sql.Rows) (*AgentSpec, error) {
	var a AgentSpec
	var llmModelID sql.NullString
	if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.SystemPrompt,
		&llmModelID, &a.HandlerClass, &a.Active); err != nil {
		return nil, err
	}
	a.LLMModelID = llmModelID.String
	return &a, nil
}

// ListAgentTools implements Store.
func (s *PostgresStore) ListAgentTools(ctx context.Context, agentID string, limit int) ([]*AgentToolRow, error) {
	var bindings []*AgentToolRow
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			row, err := scanAgentToolRow(rows)
			if err != nil {
				return err
			}
			bindings = append(bindings, row)
		}
		return nil
	}, `SELECT t.id, t.name, t.description, t.kind, t.endpoint_template, t.static_headers,
			t.body_template, t.timeout_seconds, t.input_schema, t.output_format, t.active,
			at.priority
		FROM agent_tools at
		JOIN tool_specs t ON t.id = at.tool_id
		WHERE at.agent_id = $1
		ORDER BY at.priority ASC, t.name ASC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query agent tools failed: %w", err)
	}
	return bindings, nil
}

func scanAgentToolRow(rows *sql.Rows) (*AgentToolRow, error) {
	var (
		t           ToolSpec
		kind        string
		headersJSON []byte
		schemaJSON  []byte
		priority    int
	)
	if err := rows.Scan(&t.ID, &t.Name, &t.Description, &kind, &t.EndpointTemplate,
		&headersJSON, &t.BodyTemplate, &t.TimeoutSeconds, &schemaJSON,
		&t.OutputFormat, &t.Active, &priority); err != nil {
		return nil, err
	}
	t.Kind = ToolKind(kind)
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &t.StaticHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal static headers for tool %s failed: %w", t.Name, err)
		}
	}
	t.InputSchema = json.RawMessage(schemaJSON)
	return &AgentToolRow{Tool: &t, Priority: priority}, nil
}

// ToolGranted implements Store.
func (s *PostgresStore) ToolGranted(ctx context.Context, tenantID, toolID string) (bool, error) {
	enabled := false
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		return rows.Scan(&enabled)
	}, `SELECT enabled FROM tenant_tool_grants WHERE tenant_id = $1 AND tool_id = $2`, tenantID, toolID)
	if err != nil {
		return false, fmt.Errorf("query tool grant failed: %w", err)
	}
	return enabled, nil
}
