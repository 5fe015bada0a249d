//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package catalog defines the tenant-scoped configuration entities that
// drive routing: tenants, provider models, credential bindings, tool and
// agent specs, and the grant tables mediating tenant access to them.
//
// Catalog entries are written by admin tooling and read here; the router
// never mutates them at request time.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates the requested catalog row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// IsNotFound reports whether err means a missing catalog row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ToolKind is the base execution kind of a ToolSpec.
type ToolKind string

// Tool kinds understood by the tool registry.
const (
	ToolKindHTTPGet  ToolKind = "HTTP_GET"
	ToolKindHTTPPost ToolKind = "HTTP_POST"
	ToolKindRAG      ToolKind = "RAG"
	ToolKindDBQuery  ToolKind = "DB_QUERY"
	ToolKindOCR      ToolKind = "OCR"
)

// Tenant is a stable caller identity. Inactive tenants are rejected at
// request entry.
type Tenant struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// LLMProviderModel describes one provider model offering.
type LLMProviderModel struct {
	ID            string
	Provider      string
	ModelName     string
	ContextWindow int
	InputCost1K   float64
	OutputCost1K  float64
	Active        bool
}

// TenantLLMBinding selects the provider model a tenant talks through and
// carries the sealed API key. Exactly one binding exists per active tenant.
// APIKeyCiphertext is never logged and never returned over any interface.
type TenantLLMBinding struct {
	TenantID         string
	LLMModelID       string
	APIKeyCiphertext string
	RateLimitRPM     int
	UpdatedAt        time.Time
}

// ToolSpec declares an invokable tool. EndpointTemplate may contain
// {placeholder} segments matching properties of InputSchema.
type ToolSpec struct {
	ID               string
	Name             string
	Description      string
	Kind             ToolKind
	EndpointTemplate string
	StaticHeaders    map[string]string
	// BodyTemplate is a JSON body template for HTTP_POST tools; empty means
	// the full validated argument object is sent.
	BodyTemplate   string
	TimeoutSeconds int
	InputSchema    json.RawMessage
	OutputFormat   string
	Active         bool
}

// Timeout returns the per-call timeout, falling back to def when the spec
// does not set one.
func (t *ToolSpec) Timeout(def time.Duration) time.Duration {
	if t.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// AgentSpec declares a specialist agent. HandlerClass selects an executor
// strategy; unknown values fall back to the generic executor.
type AgentSpec struct {
	ID           string
	Name         string
	Description  string
	SystemPrompt string
	// LLMModelID optionally pins the agent to a provider model; the tenant
	// binding remains the credential source either way.
	LLMModelID   string
	HandlerClass string
	Active       bool
}

// AgentTool attaches a tool to an agent with a selection priority; lower
// priority wins, ties break by tool name ascending.
type AgentTool struct {
	AgentID  string
	ToolID   string
	Priority int
}

// AgentToolRow is an agent_tools row joined with its ToolSpec, in selection
// order.
type AgentToolRow struct {
	Tool     *ToolSpec
	Priority int
}

// TenantAgentGrant enables an agent for a tenant.
type TenantAgentGrant struct {
	TenantID string
	AgentID  string
	Enabled  bool
}

// TenantToolGrant enables a tool for a tenant.
type TenantToolGrant struct {
	TenantID string
	ToolID   string
	Enabled  bool
}

// Store reads catalog rows. Implementations must treat "no row" as
// ErrNotFound so callers can branch without string matching.
type Store interface {
	// GetTenant fetches one tenant by id.
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	// GetBinding fetches the tenant's LLM binding.
	GetBinding(ctx context.Context, tenantID string) (*TenantLLMBinding, error)
	// GetProviderModel fetches one provider model by id.
	GetProviderModel(ctx context.Context, modelID string) (*LLMProviderModel, error)
	// ListAuthorizedAgents returns agents with an enabled grant for the
	// tenant AND an active spec, ordered by name.
	ListAuthorizedAgents(ctx context.Context, tenantID string) ([]*AgentSpec, error)
	// ListAgentTools returns the agent's tool attachments joined with their
	// specs, ordered (priority asc, tool name asc), at most limit rows.
	ListAgentTools(ctx context.Context, agentID string, limit int) ([]*AgentToolRow, error)
	// ToolGranted reports whether the tenant holds an enabled grant for the
	// tool. A missing grant row is (false, nil), not an error.
	ToolGranted(ctx context.Context, tenantID, toolID string) (bool, error)
}
