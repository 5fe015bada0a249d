//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package executor runs one domain agent against one user turn: a
// bounded loop of chat completions and sequential tool executions.
// Strategies are selected by the agent's handler class string so new
// agent behavior stays database-driven.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/llm"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

const (
	// DefaultMaxRounds bounds the tool loop. Each round is one chat
	// completion plus the tool calls it requested.
	DefaultMaxRounds = 4

	// maxToolResultBytes caps a tool result before it is fed back to
	// the model, so one oversized upstream payload cannot blow the
	// context window.
	maxToolResultBytes = 8192
)

// Invocation is one agent run. The caller's bearer token is NOT part
// of the invocation: it travels only in the request context (see
// tool.ContextWithBearer) so invocations can be logged freely.
type Invocation struct {
	// Agent is the pre-loaded agent spec; the executor never re-queries
	// the catalog for it.
	Agent *catalog.AgentSpec

	// TenantID scopes the model client and the tool set.
	TenantID string

	// UserText is the raw user message for this turn.
	UserText string

	// SessionID identifies the conversation, for logs only.
	SessionID string

	// Language is the detected reply language tag ("vi" or "en"),
	// empty when detection was skipped.
	Language string

	// History is the bounded prior conversation, oldest first.
	History []model.Message
}

// Result is the outcome of one agent run.
type Result struct {
	// Text is the assistant's final answer.
	Text string `json:"text"`

	// ToolCallsMade lists the tool names invoked, in execution order.
	ToolCallsMade []string `json:"tool_calls_made"`

	// Entities holds advisory values extracted from the user message,
	// keyed by the first tool's required properties.
	Entities map[string]any `json:"entities_extracted,omitempty"`

	// LLMModel is the provider model name that answered.
	LLMModel string `json:"llm_model"`

	// TotalTokens sums the token usage over every completion in the
	// run, when the provider reports it. Zero means unreported.
	TotalTokens int `json:"total_tokens,omitempty"`

	// DurationMS measures the whole run, entity extraction included.
	DurationMS int64 `json:"duration_ms"`

	// Overflow is set when the round limit was reached before the model
	// produced a text-only answer. It is a normal termination.
	Overflow bool `json:"overflow,omitempty"`
}

// Executor is one agent strategy.
type Executor interface {
	// Invoke runs the agent against the user turn.
	Invoke(ctx context.Context, inv *Invocation) (*Result, error)
}

// ClientProvider yields the tenant's configured chat model.
type ClientProvider interface {
	GetClient(ctx context.Context, tenantID string) (model.Model, error)
}

// ToolLoader returns the permission-filtered callable tools for an
// agent under a tenant.
type ToolLoader interface {
	LoadToolsForAgent(ctx context.Context, agentID, tenantID string) ([]tool.CallableTool, error)
}

// Deps are the shared dependencies every strategy is built from.
type Deps struct {
	// Clients resolves tenant model clients, usually *llm.Manager.
	Clients ClientProvider

	// Tools loads agent tool sets, usually *registry.Registry.
	Tools ToolLoader

	// MaxRounds overrides DefaultMaxRounds when positive.
	MaxRounds int
}

// Factory builds an executor strategy from shared dependencies.
type Factory func(deps Deps) Executor

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a strategy under a handler class path.
// Last registration wins, which lets tests substitute strategies.
func RegisterFactory(handlerClass string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[strings.TrimSpace(handlerClass)] = factory
}

// ForHandlerClass resolves the strategy for an agent's handler class.
// Unknown classes fall back to the generic strategy with a warning,
// never a hard failure, so an agent row with a stale class keeps
// answering.
func ForHandlerClass(handlerClass string, deps Deps) Executor {
	class := strings.TrimSpace(handlerClass)
	if class == "" {
		return NewGeneric(deps)
	}
	factoryMu.RLock()
	factory, ok := factories[class]
	factoryMu.RUnlock()
	if !ok {
		log.Warnf("no executor registered for handler class %q, using generic", class)
		return NewGeneric(deps)
	}
	return factory(deps)
}

// Generic is the default strategy: load tools, optionally extract
// entities, then loop chat completions with sequential tool execution
// until the model answers in text or the round limit is hit.
type Generic struct {
	clients   ClientProvider
	tools     ToolLoader
	maxRounds int
}

var _ Executor = (*Generic)(nil)

// NewGeneric creates the generic strategy.
func NewGeneric(deps Deps) *Generic {
	rounds := deps.MaxRounds
	if rounds <= 0 {
		rounds = DefaultMaxRounds
	}
	return &Generic{
		clients:   deps.Clients,
		tools:     deps.Tools,
		maxRounds: rounds,
	}
}

// Invoke implements the Executor interface.
func (g *Generic) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv == nil || inv.Agent == nil {
		return nil, status.New(status.CodeInvalidArgument, "invocation requires an agent")
	}
	start := time.Now()

	client, err := g.clients.GetClient(ctx, inv.TenantID)
	if err != nil {
		return nil, err
	}
	tools, err := g.tools.LoadToolsForAgent(ctx, inv.Agent.ID, inv.TenantID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ToolCallsMade: []string{},
		LLMModel:      client.Info().Name,
	}

	if len(tools) == 0 {
		text, err := g.direct(ctx, client, inv, result)
		if err != nil {
			return nil, err
		}
		result.Text = text
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	result.Entities = g.extractEntities(ctx, client, tools[0], inv.UserText)

	text, calls, overflow, err := g.loop(ctx, client, tools, inv, result)
	if err != nil {
		return nil, err
	}
	result.Text = text
	result.ToolCallsMade = calls
	result.Overflow = overflow
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

// direct answers without tools: one completion over the plain system
// prompt, history and user text.
func (g *Generic) direct(ctx context.Context, client model.Model, inv *Invocation, res *Result) (string, error) {
	messages := make([]model.Message, 0, len(inv.History)+2)
	messages = append(messages, model.NewSystemMessage(systemPrompt(inv.Agent.SystemPrompt, inv.Language)))
	messages = append(messages, inv.History...)
	messages = append(messages, model.NewUserMessage(inv.UserText))

	resp, err := g.generate(ctx, client, &model.Request{Messages: messages}, res)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// loop drives the bounded tool loop. It returns the final text, the
// tool names executed, and whether the round limit was exhausted.
func (g *Generic) loop(
	ctx context.Context,
	client model.Model,
	tools []tool.CallableTool,
	inv *Invocation,
	res *Result,
) (string, []string, bool, error) {
	declarations := make([]*tool.Declaration, 0, len(tools))
	byName := make(map[string]tool.CallableTool, len(tools))
	for _, t := range tools {
		decl := t.Declaration()
		declarations = append(declarations, decl)
		byName[decl.Name] = t
	}

	messages := make([]model.Message, 0, len(inv.History)+2)
	messages = append(messages, model.NewSystemMessage(toolSystemPrompt(inv.Agent.SystemPrompt, declarations, inv.Language)))
	messages = append(messages, inv.History...)
	messages = append(messages, model.NewUserMessage(inv.UserText))

	var lastText string
	calls := []string{}
	for round := 0; round < g.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", calls, false, err
		}

		resp, err := g.generate(ctx, client, &model.Request{Messages: messages, Tools: declarations}, res)
		if err != nil {
			return "", calls, false, err
		}
		assistant := resp.Choices[0].Message
		lastText = assistant.Content
		if len(assistant.ToolCalls) == 0 {
			return assistant.Content, calls, false, nil
		}

		// The assistant tool request and every tool result become part
		// of the message list for the next round. Execution is
		// sequential in the order the model returned the calls; results
		// are never cached across rounds.
		messages = append(messages, assistant)
		for _, call := range assistant.ToolCalls {
			name := call.Function.Name
			callable, ok := byName[name]
			if !ok {
				log.Warnf("model requested unknown tool %s on agent %s", name, inv.Agent.Name)
				messages = append(messages, toolResultMessage(call.ID, name, map[string]any{
					"error": "unknown_tool",
					"name":  name,
				}))
				continue
			}
			calls = append(calls, name)
			messages = append(messages, toolResultMessage(call.ID, name, g.callTool(ctx, callable, call)))
		}
	}

	log.Warnf("agent %s exhausted %d rounds on session %s", inv.Agent.Name, g.maxRounds, inv.SessionID)
	return lastText, calls, true, nil
}

// callTool runs one tool call and always produces a value for the
// model. A failing tool must not end the loop, so infrastructure
// errors surface as error values too.
func (g *Generic) callTool(ctx context.Context, callable tool.CallableTool, call model.ToolCall) any {
	log.Debugf("executing tool %s with args: %s", call.Function.Name, string(call.Function.Arguments))
	callCtx := tool.ContextWithCallID(ctx, call.ID)
	result, err := callable.Call(callCtx, call.Function.Arguments)
	if err != nil {
		log.Errorf("tool %s failed: %v", call.Function.Name, err)
		return map[string]any{
			"error":  "tool execution failed",
			"detail": err.Error(),
		}
	}
	return result
}

// generate runs one chat completion, adds its reported token usage to
// the result, and maps provider failures onto the status taxonomy.
// Adapters report provider errors inside the response, so both
// channels are checked.
func (g *Generic) generate(ctx context.Context, client model.Model, req *model.Request, res *Result) (*model.Response, error) {
	resp, err := client.GenerateContent(ctx, req)
	if err != nil {
		return nil, status.Wrap(status.CodeLLMTransportError, "chat completion failed", err)
	}
	if resp.Error != nil {
		return nil, status.New(llm.CodeForProviderError(resp.Error), "chat completion failed: "+resp.Error.Message)
	}
	if resp.Usage != nil {
		res.TotalTokens += resp.Usage.TotalTokens
	}
	if len(resp.Choices) == 0 {
		return nil, status.New(status.CodeLLMTransportError, "chat completion returned no choices")
	}
	return resp, nil
}

// extractEntities asks the model for values matching the first tool's
// required properties. The result is advisory metadata: any failure
// yields nil and the run proceeds.
func (g *Generic) extractEntities(ctx context.Context, client model.Model, first tool.CallableTool, userText string) map[string]any {
	decl := first.Declaration()
	if decl == nil || decl.InputSchema == nil || len(decl.InputSchema.Required) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(
		"Extract values for the fields %s from the user message. "+
			"Reply with a single JSON object holding only the fields you actually found.",
		strings.Join(decl.InputSchema.Required, ", "))
	resp, err := client.GenerateContent(ctx, &model.Request{Messages: []model.Message{
		model.NewSystemMessage(prompt),
		model.NewUserMessage(userText),
	}})
	if err != nil {
		log.Debugf("entity extraction call failed: %v", err)
		return nil
	}
	if resp.Error != nil || len(resp.Choices) == 0 {
		log.Debugf("entity extraction unavailable for this request")
		return nil
	}

	entities := map[string]any{}
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &entities); err != nil {
		log.Debugf("entity extraction returned non-JSON output, ignoring")
		return nil
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}

// systemPrompt appends the reply-language instruction the router
// detected, when any.
func systemPrompt(base, language string) string {
	switch language {
	case "vi":
		return base + "\n\nLuôn trả lời bằng tiếng Việt."
	case "en":
		return base + "\n\nAlways reply in English."
	default:
		return base
	}
}

// toolSystemPrompt extends the agent prompt with a machine-readable
// enumeration of the tools the model may call this turn.
func toolSystemPrompt(base string, declarations []*tool.Declaration, language string) string {
	var b strings.Builder
	b.WriteString(systemPrompt(base, language))
	b.WriteString("\n\nTools available on this request:\n")
	for _, decl := range declarations {
		schema, err := json.Marshal(decl.InputSchema)
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s\n  arguments: %s\n", decl.Name, decl.Description, schema)
	}
	return b.String()
}

// toolResultMessage renders a tool result for the next model turn.
func toolResultMessage(callID, toolName string, result any) model.Message {
	content, err := json.Marshal(result)
	if err != nil {
		log.Warnf("marshal result of tool %s failed: %v", toolName, err)
		content = []byte(`{"error":"tool result is not serializable"}`)
	}
	text := string(content)
	if len(text) > maxToolResultBytes {
		text = text[:maxToolResultBytes] + "…"
	}
	return model.NewToolMessage(callID, toolName, text)
}

// stripFences removes a markdown code fence around a JSON payload.
// Models wrap extraction output in fences often enough to care.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
