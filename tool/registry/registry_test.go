//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myle1996kh/ITL-PGVector-sub000/cache"
	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/knowledge"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string][]*catalog.AgentToolRow
	grants     map[string]bool
	listErr    error
	grantErr   error
	grantReads int32
}

func (f *fakeStore) GetTenant(ctx context.Context, tenantID string) (*catalog.Tenant, error) {
	return nil, catalog.ErrNotFound
}

func (f *fakeStore) GetBinding(ctx context.Context, tenantID string) (*catalog.TenantLLMBinding, error) {
	return nil, catalog.ErrNotFound
}

func (f *fakeStore) GetProviderModel(ctx context.Context, modelID string) (*catalog.LLMProviderModel, error) {
	return nil, catalog.ErrNotFound
}

func (f *fakeStore) ListAuthorizedAgents(ctx context.Context, tenantID string) ([]*catalog.AgentSpec, error) {
	return nil, nil
}

func (f *fakeStore) ListAgentTools(ctx context.Context, agentID string, limit int) ([]*catalog.AgentToolRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	rows := f.rows[agentID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) ToolGranted(ctx context.Context, tenantID, toolID string) (bool, error) {
	atomic.AddInt32(&f.grantReads, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return false, f.grantErr
	}
	return f.grants[tenantID+"/"+toolID], nil
}

func quoteSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["route"],
		"properties": {
			"route":  {"type": "string"},
			"weight": {"type": "number"}
		}
	}`)
}

func newQuoteSpec(id, endpoint string) *catalog.ToolSpec {
	return &catalog.ToolSpec{
		ID:               id,
		Name:             "get_quote",
		Description:      "look up a freight quote",
		Kind:             catalog.ToolKindHTTPGet,
		EndpointTemplate: endpoint,
		InputSchema:      quoteSchema(),
		Active:           true,
	}
}

func TestLoadToolsForAgent_FiltersInactiveAndUngranted(t *testing.T) {
	active := newQuoteSpec("tool-1", "http://upstream.invalid/quotes/{route}")
	inactive := newQuoteSpec("tool-2", "http://upstream.invalid/other")
	inactive.Name = "get_other"
	inactive.Active = false
	ungranted := newQuoteSpec("tool-3", "http://upstream.invalid/secret")
	ungranted.Name = "get_secret"

	store := &fakeStore{
		rows: map[string][]*catalog.AgentToolRow{
			"agent-1": {
				{Tool: active, Priority: 0},
				{Tool: inactive, Priority: 1},
				{Tool: ungranted, Priority: 2},
			},
		},
		grants: map[string]bool{"tenant-1/tool-1": true},
	}
	reg := NewRegistry(store)

	tools, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_quote", tools[0].Declaration().Name)
	assert.Equal(t, "look up a freight quote", tools[0].Declaration().Description)
}

func TestLoadToolsForAgent_ReusesCompiledTool(t *testing.T) {
	spec := newQuoteSpec("tool-1", "http://upstream.invalid/quotes/{route}")
	store := &fakeStore{
		rows:   map[string][]*catalog.AgentToolRow{"agent-1": {{Tool: spec}}},
		grants: map[string]bool{"tenant-1/tool-1": true},
	}
	reg := NewRegistry(store)

	first, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	second, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
}

func TestLoadToolsForAgent_RecompilesOnSpecChange(t *testing.T) {
	spec := newQuoteSpec("tool-1", "http://upstream.invalid/quotes/{route}")
	store := &fakeStore{
		rows:   map[string][]*catalog.AgentToolRow{"agent-1": {{Tool: spec}}},
		grants: map[string]bool{"tenant-1/tool-1": true},
	}
	reg := NewRegistry(store)

	first, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)

	spec.EndpointTemplate = "http://upstream.invalid/v2/quotes/{route}"
	second, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)

	assert.NotSame(t, first[0], second[0])
}

func TestLoadToolsForAgent_GrantSnapshotsAreShared(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	permCache := cache.NewPermissionCache(client)

	spec := newQuoteSpec("tool-1", "http://upstream.invalid/quotes/{route}")
	store := &fakeStore{
		rows:   map[string][]*catalog.AgentToolRow{"agent-1": {{Tool: spec}}},
		grants: map[string]bool{"tenant-1/tool-1": true},
	}
	reg := NewRegistry(store, WithPermissionCache(permCache))

	_, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.grantReads))

	_, err = reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.grantReads), "second load should hit the cache")

	cached, err := mr.Get("tenant-1:tool:tool-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"granted":true}`, cached)
}

func TestCompiledTool_RejectsInvalidArgsBeforeIO(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"price": 99}`))
	}))
	defer srv.Close()

	spec := newQuoteSpec("tool-1", srv.URL+"/quotes/{route}")
	store := &fakeStore{
		rows:   map[string][]*catalog.AgentToolRow{"agent-1": {{Tool: spec}}},
		grants: map[string]bool{"tenant-1/tool-1": true},
	}
	reg := NewRegistry(store)

	tools, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	result, err := tools[0].Call(context.Background(), []byte(`{"weight": 2}`))
	require.NoError(t, err)
	decoded, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "schema_invalid", decoded["error"])
	assert.Contains(t, decoded["detail"], "route")
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits), "invalid args must not reach the upstream")

	result, err = tools[0].Call(context.Background(), []byte(`{"route":"SGN-LAX"}`))
	require.NoError(t, err)
	priced, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(99), priced["price"])
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestStubKinds_LoadWithoutCrashing(t *testing.T) {
	dbSpec := &catalog.ToolSpec{
		ID:     "tool-db",
		Name:   "query_ledger",
		Kind:   catalog.ToolKindDBQuery,
		Active: true,
	}
	ocrSpec := &catalog.ToolSpec{
		ID:     "tool-ocr",
		Name:   "scan_invoice",
		Kind:   catalog.ToolKindOCR,
		Active: true,
	}
	store := &fakeStore{
		rows: map[string][]*catalog.AgentToolRow{
			"agent-1": {{Tool: dbSpec}, {Tool: ocrSpec, Priority: 1}},
		},
		grants: map[string]bool{"tenant-1/tool-db": true, "tenant-1/tool-ocr": true},
	}
	reg := NewRegistry(store)

	tools, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	require.Len(t, tools, 2)

	result, err := tools[0].Call(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	decoded, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not_implemented", decoded["error"])
}

func TestRAGKindWithoutRetrieverFallsBackToStub(t *testing.T) {
	ragSpec := &catalog.ToolSpec{
		ID:     "tool-rag",
		Name:   "search_docs",
		Kind:   catalog.ToolKindRAG,
		Active: true,
	}
	store := &fakeStore{
		rows:   map[string][]*catalog.AgentToolRow{"agent-1": {{Tool: ragSpec}}},
		grants: map[string]bool{"tenant-1/tool-rag": true},
	}
	reg := NewRegistry(store)

	tools, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	result, err := tools[0].Call(context.Background(), []byte(`{"query_text":"giá cước"}`))
	require.NoError(t, err)
	decoded, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not_implemented", decoded["error"])
}

type staticRetriever struct{}

func (staticRetriever) Retrieve(ctx context.Context, query *knowledge.Query) (*knowledge.Result, error) {
	return &knowledge.Result{Documents: []*knowledge.Document{{Content: "doc for " + query.TenantID}}}, nil
}

func TestRAGKindUsesConfiguredRetriever(t *testing.T) {
	ragSpec := &catalog.ToolSpec{
		ID:          "tool-rag",
		Name:        "search_docs",
		Kind:        catalog.ToolKindRAG,
		InputSchema: json.RawMessage(`{"type":"object","required":["query_text"],"properties":{"query_text":{"type":"string"},"top_k":{"type":"integer"}}}`),
		Active:      true,
	}
	store := &fakeStore{
		rows:   map[string][]*catalog.AgentToolRow{"agent-1": {{Tool: ragSpec}}},
		grants: map[string]bool{"tenant-1/tool-rag": true},
	}
	reg := NewRegistry(store, WithRetriever(staticRetriever{}))

	tools, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	ctx := tool.ContextWithTenant(context.Background(), "tenant-1")
	result, err := tools[0].Call(ctx, []byte(`{"query_text":"giá cước"}`))
	require.NoError(t, err)
	decoded, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, decoded["success"])
}

func TestLoadToolsForAgent_StoreError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection refused")}
	reg := NewRegistry(store)

	_, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.Error(t, err)
	assert.Equal(t, status.CodeStoreError, status.CodeOf(err))
}

func TestLoadToolsForAgent_BrokenSchemaSkipsOnlyThatTool(t *testing.T) {
	broken := &catalog.ToolSpec{
		ID:          "tool-broken",
		Name:        "get_broken",
		Kind:        catalog.ToolKindHTTPGet,
		InputSchema: json.RawMessage(`{"type": 123}`),
		Active:      true,
	}
	good := newQuoteSpec("tool-1", "http://upstream.invalid/quotes/{route}")
	store := &fakeStore{
		rows: map[string][]*catalog.AgentToolRow{
			"agent-1": {{Tool: broken}, {Tool: good, Priority: 1}},
		},
		grants: map[string]bool{"tenant-1/tool-broken": true, "tenant-1/tool-1": true},
	}
	reg := NewRegistry(store)

	tools, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_quote", tools[0].Declaration().Name)
}

func TestInvalidate_DropsTenantEntriesOnly(t *testing.T) {
	spec := newQuoteSpec("tool-1", "http://upstream.invalid/quotes/{route}")
	store := &fakeStore{
		rows: map[string][]*catalog.AgentToolRow{"agent-1": {{Tool: spec}}},
		grants: map[string]bool{
			"tenant-1/tool-1": true,
			"tenant-2/tool-1": true,
		},
	}
	reg := NewRegistry(store)

	first, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	other, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-2")
	require.NoError(t, err)

	reg.Invalidate("tenant-1")

	rebuilt, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-1")
	require.NoError(t, err)
	assert.NotSame(t, first[0], rebuilt[0])

	kept, err := reg.LoadToolsForAgent(context.Background(), "agent-1", "tenant-2")
	require.NoError(t, err)
	assert.Same(t, other[0], kept[0])
}
