//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package registry loads, permission-filters, and compiles the callable
// tools an agent presents to the model. Compiled tools are cached per
// (tenant, tool) and hold no credentials: bearer token and tenant scope
// travel in the per-request context.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/singleflight"

	"github.com/myle1996kh/ITL-PGVector-sub000/cache"
	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/knowledge"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool/httptool"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool/ragtool"
)

// defaultToolLimit caps how many attachments an agent presents per request.
const defaultToolLimit = 5

type compiledKey struct {
	tenantID string
	toolID   string
}

type compiledTool struct {
	fingerprint uint32
	tool        tool.CallableTool
}

// Registry compiles tool specs into callable tools.
type Registry struct {
	store     catalog.Store
	retriever knowledge.Retriever
	cache     *cache.PermissionCache
	httpOpts  []httptool.Option
	limit     int

	mu       sync.RWMutex
	compiled map[compiledKey]*compiledTool
	group    singleflight.Group
}

// Option configures NewRegistry.
type Option func(*Registry)

// WithRetriever wires the knowledge-base retriever used by RAG tools.
func WithRetriever(r knowledge.Retriever) Option {
	return func(reg *Registry) {
		reg.retriever = r
	}
}

// WithPermissionCache enables shared caching of tenant tool grants.
func WithPermissionCache(c *cache.PermissionCache) Option {
	return func(reg *Registry) {
		reg.cache = c
	}
}

// WithHTTPOptions passes options through to compiled HTTP tools.
func WithHTTPOptions(opts ...httptool.Option) Option {
	return func(reg *Registry) {
		reg.httpOpts = opts
	}
}

// WithToolLimit overrides how many attachments are considered per agent.
func WithToolLimit(limit int) Option {
	return func(reg *Registry) {
		if limit > 0 {
			reg.limit = limit
		}
	}
}

// NewRegistry creates a Registry over the catalog store.
func NewRegistry(store catalog.Store, opts ...Option) *Registry {
	reg := &Registry{
		store:    store,
		limit:    defaultToolLimit,
		compiled: make(map[compiledKey]*compiledTool),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// LoadToolsForAgent returns the agent's callable tools for the tenant, in
// selection order (priority asc, name asc, capped at the tool limit).
// Inactive specs are dropped silently; ungranted ones with a warning. A
// spec that fails to compile is skipped so one broken tool cannot take an
// agent offline.
func (r *Registry) LoadToolsForAgent(ctx context.Context, agentID, tenantID string) ([]tool.CallableTool, error) {
	rows, err := r.store.ListAgentTools(ctx, agentID, r.limit)
	if err != nil {
		return nil, status.Wrap(status.CodeStoreError,
			fmt.Sprintf("list tools for agent %s failed", agentID), err)
	}

	tools := make([]tool.CallableTool, 0, len(rows))
	for _, row := range rows {
		spec := row.Tool
		if spec == nil || !spec.Active {
			continue
		}
		granted, err := r.toolGranted(ctx, tenantID, spec.ID)
		if err != nil {
			return nil, err
		}
		if !granted {
			log.Warnf("tenant %s: tool %s attached to agent %s without a grant, skipping",
				tenantID, spec.Name, agentID)
			continue
		}
		compiled, err := r.compile(ctx, tenantID, spec)
		if err != nil {
			log.Errorf("tenant %s: compiling tool %s failed, skipping: %v", tenantID, spec.Name, err)
			continue
		}
		tools = append(tools, compiled)
	}
	return tools, nil
}

// Invalidate drops the tenant's compiled tools from process memory.
// Shared grant snapshots in the permission cache are evicted separately
// via PermissionCache.EvictTenant at the admin surface.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.compiled {
		if key.tenantID == tenantID {
			delete(r.compiled, key)
		}
	}
}

type grantSnapshot struct {
	Granted bool `json:"granted"`
}

func (r *Registry) toolGranted(ctx context.Context, tenantID, toolID string) (bool, error) {
	key := cache.ToolKey(tenantID, toolID)
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var snap grantSnapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				return snap.Granted, nil
			}
			log.Warnf("tenant %s: malformed grant snapshot under %s, reloading", tenantID, key)
		}
	}

	granted, err := r.store.ToolGranted(ctx, tenantID, toolID)
	if err != nil {
		return false, status.Wrap(status.CodeStoreError,
			fmt.Sprintf("read grant for tool %s failed", toolID), err)
	}
	if r.cache != nil {
		raw, err := json.Marshal(grantSnapshot{Granted: granted})
		if err == nil {
			r.cache.Set(ctx, key, raw)
		}
	}
	return granted, nil
}

// compile returns the cached compiled tool when the spec is unchanged,
// otherwise builds it under a per-key single flight.
func (r *Registry) compile(ctx context.Context, tenantID string, spec *catalog.ToolSpec) (tool.CallableTool, error) {
	fingerprint := specFingerprint(spec)
	key := compiledKey{tenantID: tenantID, toolID: spec.ID}

	r.mu.RLock()
	entry, ok := r.compiled[key]
	r.mu.RUnlock()
	if ok && entry.fingerprint == fingerprint {
		return entry.tool, nil
	}

	flightKey := fmt.Sprintf("%s/%s/%d", tenantID, spec.ID, fingerprint)
	value, err, _ := r.group.Do(flightKey, func() (any, error) {
		r.mu.RLock()
		entry, ok := r.compiled[key]
		r.mu.RUnlock()
		if ok && entry.fingerprint == fingerprint {
			return entry.tool, nil
		}

		built, err := r.build(spec)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.compiled[key] = &compiledTool{fingerprint: fingerprint, tool: built}
		r.mu.Unlock()
		log.Infof("tenant %s: compiled tool %s (%s)", tenantID, spec.Name, spec.Kind)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(tool.CallableTool), nil
}

func (r *Registry) build(spec *catalog.ToolSpec) (tool.CallableTool, error) {
	declaration, validator, err := compileDeclaration(spec)
	if err != nil {
		return nil, err
	}

	var inner tool.CallableTool
	switch spec.Kind {
	case catalog.ToolKindHTTPGet, catalog.ToolKindHTTPPost:
		inner = httptool.New(spec, declaration, r.httpOpts...)
	case catalog.ToolKindRAG:
		if r.retriever == nil {
			log.Warnf("tool %s wants RAG but no retriever is configured", spec.Name)
			inner = newStubTool(spec, declaration, "no knowledge base is configured")
		} else {
			inner = ragtool.New(spec, declaration, r.retriever)
		}
	case catalog.ToolKindDBQuery, catalog.ToolKindOCR:
		inner = newStubTool(spec, declaration, fmt.Sprintf("tool kind %s is declared but not executable yet", spec.Kind))
	default:
		inner = newStubTool(spec, declaration, fmt.Sprintf("tool kind %s is unknown", spec.Kind))
	}

	return &validatedTool{name: spec.Name, schema: validator, inner: inner}, nil
}

// compileDeclaration parses the spec's input schema into the declaration
// shown to the model and a compiled validator for inbound arguments.
func compileDeclaration(spec *catalog.ToolSpec) (*tool.Declaration, *jsonschema.Schema, error) {
	raw := spec.InputSchema
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}

	inputSchema := &tool.Schema{}
	if err := json.Unmarshal(raw, inputSchema); err != nil {
		return nil, nil, fmt.Errorf("tool %s: input schema is not valid JSON: %w", spec.Name, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("tool %s: input schema is not valid JSON: %w", spec.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("%s.schema.json", spec.Name)
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, nil, fmt.Errorf("tool %s: add schema resource failed: %w", spec.Name, err)
	}
	validator, err := compiler.Compile(resource)
	if err != nil {
		return nil, nil, fmt.Errorf("tool %s: compile input schema failed: %w", spec.Name, err)
	}

	return &tool.Declaration{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: inputSchema,
	}, validator, nil
}

// specFingerprint hashes every field that affects a compiled tool so a
// changed spec recompiles instead of serving stale behavior.
func specFingerprint(spec *catalog.ToolSpec) uint32 {
	h := murmur3.New32()
	_, _ = h.Write([]byte(spec.Kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(spec.EndpointTemplate))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(spec.BodyTemplate))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(fmt.Sprintf("%d", spec.TimeoutSeconds)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(spec.InputSchema)
	if len(spec.StaticHeaders) > 0 {
		headers, _ := json.Marshal(spec.StaticHeaders)
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(headers)
	}
	return h.Sum32()
}

// validatedTool rejects schema-invalid arguments before the wrapped tool
// performs any outbound I/O.
type validatedTool struct {
	name   string
	schema *jsonschema.Schema
	inner  tool.CallableTool
}

func (v *validatedTool) Declaration() *tool.Declaration {
	return v.inner.Declaration()
}

func (v *validatedTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	payload := jsonArgs
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return map[string]any{
			"error":  "schema_invalid",
			"detail": fmt.Sprintf("arguments for %s are not valid JSON: %v", v.name, err),
		}, nil
	}
	if err := v.schema.Validate(decoded); err != nil {
		return map[string]any{
			"error":  "schema_invalid",
			"detail": err.Error(),
		}, nil
	}
	return v.inner.Call(ctx, jsonArgs)
}

// stubTool answers for catalog kinds that have no executor. Loading a
// spec of such a kind must never fail; calling it reports a
// not_implemented error value to the model.
type stubTool struct {
	spec        *catalog.ToolSpec
	declaration *tool.Declaration
	detail      string
}

func newStubTool(spec *catalog.ToolSpec, declaration *tool.Declaration, detail string) *stubTool {
	return &stubTool{spec: spec, declaration: declaration, detail: detail}
}

func (s *stubTool) Declaration() *tool.Declaration {
	return s.declaration
}

func (s *stubTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	return map[string]any{
		"error":  "not_implemented",
		"detail": s.detail,
	}, nil
}
