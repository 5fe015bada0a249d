//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package supervisor routes one user turn to a domain agent. Routing is
// a single classification call over the tenant's authorized agents; the
// chosen agent then runs through the executor. Turns the classifier
// cannot place end as localized clarifications instead of agent runs.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/myle1996kh/ITL-PGVector-sub000/cache"
	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/executor"
	"github.com/myle1996kh/ITL-PGVector-sub000/llm"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/memory"
	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
)

// Intent labels recorded on turns that ended without an agent.
const (
	// IntentUnclear marks turns the classifier could not place.
	IntentUnclear = "unclear"
	// IntentMultiIntent marks turns asking for several things at once.
	IntentMultiIntent = "multi_intent"
)

// Labels the classifier model is instructed to emit.
const (
	labelUnclear     = "UNCLEAR"
	labelMultiIntent = "MULTI_INTENT"
)

// DefaultMaxHistory bounds the prior messages included in prompts.
const DefaultMaxHistory = 10

// Request is one user turn to route.
type Request struct {
	TenantID  string
	SessionID string
	UserText  string
}

// Outcome is the routing result: an executed agent turn, or a
// clarification that never reached an agent.
type Outcome struct {
	// Intent is the dispatched agent name, or IntentUnclear /
	// IntentMultiIntent.
	Intent string

	// Language is the detected reply language tag, "vi" or "en".
	Language string

	// Text is the assistant reply: the agent's answer or the canned
	// clarification.
	Text string

	// Agent is the dispatched agent spec, nil for clarifications.
	Agent *catalog.AgentSpec

	// Result is the executor outcome, nil for clarifications.
	Result *executor.Result
}

// Clarification reports whether the turn ended without an agent run.
func (o *Outcome) Clarification() bool {
	return o.Agent == nil
}

// Router classifies user turns against the tenant's authorized agents
// and dispatches the winner.
type Router struct {
	store      catalog.Store
	memory     *memory.Memory
	deps       executor.Deps
	cache      *cache.PermissionCache
	maxHistory int
}

// Option configures NewRouter.
type Option func(*Router)

// WithPermissionCache caches authorized agent lists between requests.
func WithPermissionCache(c *cache.PermissionCache) Option {
	return func(r *Router) {
		r.cache = c
	}
}

// WithMaxHistory overrides the prompt history bound.
func WithMaxHistory(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxHistory = n
		}
	}
}

// NewRouter creates a Router. The executor dependencies are shared with
// every strategy the router dispatches to.
func NewRouter(store catalog.Store, mem *memory.Memory, deps executor.Deps, opts ...Option) *Router {
	r := &Router{
		store:      store,
		memory:     mem,
		deps:       deps,
		maxHistory: DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route classifies the turn and, when an agent wins, runs it. The
// history loaded here is shared with the dispatched executor so the
// store is read once per turn.
func (r *Router) Route(ctx context.Context, req *Request) (*Outcome, error) {
	if req == nil || strings.TrimSpace(req.UserText) == "" {
		return nil, status.New(status.CodeInvalidArgument, "user text must not be empty")
	}
	language := DetectLanguage(req.UserText)

	agents, err := r.authorizedAgents(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		log.Warnf("tenant %s has no authorized agents", req.TenantID)
		return clarification(IntentUnclear, language), nil
	}

	history := r.memory.History(ctx, req.SessionID, r.maxHistory, false)

	label, err := r.classify(ctx, req, agents, history, language)
	if err != nil {
		return nil, err
	}
	switch label {
	case labelMultiIntent:
		return clarification(IntentMultiIntent, language), nil
	case labelUnclear:
		return clarification(IntentUnclear, language), nil
	}

	agent := findAgent(agents, label)
	if agent == nil {
		// classify only returns validated names; a miss here means the
		// agent list changed mid-request.
		log.Warnf("classified agent %s is no longer authorized for tenant %s", label, req.TenantID)
		return clarification(IntentUnclear, language), nil
	}

	exec := executor.ForHandlerClass(agent.HandlerClass, r.deps)
	result, err := exec.Invoke(ctx, &executor.Invocation{
		Agent:     agent,
		TenantID:  req.TenantID,
		UserText:  req.UserText,
		SessionID: req.SessionID,
		Language:  language,
		History:   history,
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Intent:   agent.Name,
		Language: language,
		Text:     result.Text,
		Agent:    agent,
		Result:   result,
	}, nil
}

// authorizedAgents returns the tenant's dispatchable agents, cached
// under the tenant agents key when a cache is configured.
func (r *Router) authorizedAgents(ctx context.Context, tenantID string) ([]*catalog.AgentSpec, error) {
	key := cache.AgentsKey(tenantID)
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var agents []*catalog.AgentSpec
			if err := json.Unmarshal(raw, &agents); err == nil {
				return agents, nil
			}
			log.Warnf("cached agent list for tenant %s is malformed, reloading", tenantID)
		}
	}

	agents, err := r.store.ListAuthorizedAgents(ctx, tenantID)
	if err != nil {
		return nil, status.Wrap(status.CodeStoreError, "list authorized agents failed", err)
	}
	if r.cache != nil {
		if raw, err := json.Marshal(agents); err == nil {
			r.cache.Set(ctx, key, raw)
		}
	}
	return agents, nil
}

// classify runs the routing completion and parses its answer.
func (r *Router) classify(
	ctx context.Context,
	req *Request,
	agents []*catalog.AgentSpec,
	history []model.Message,
	language string,
) (string, error) {
	client, err := r.deps.Clients.GetClient(ctx, req.TenantID)
	if err != nil {
		return "", err
	}

	messages := make([]model.Message, 0, len(history)+2)
	messages = append(messages, model.NewSystemMessage(classifierPrompt(agents, language)))
	messages = append(messages, history...)
	messages = append(messages, model.NewUserMessage(req.UserText))

	resp, err := client.GenerateContent(ctx, &model.Request{Messages: messages})
	if err != nil {
		return "", status.Wrap(status.CodeLLMTransportError, "intent classification failed", err)
	}
	if resp.Error != nil {
		return "", status.New(llm.CodeForProviderError(resp.Error), "intent classification failed: "+resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", status.New(status.CodeLLMTransportError, "intent classification returned no choices")
	}
	return parseIntent(resp.Choices[0].Message.Content, agents), nil
}

// classifierPrompt builds the routing instruction over the tenant's
// authorized agents. The model must answer with a bare label so parsing
// stays trivial.
func classifierPrompt(agents []*catalog.AgentSpec, language string) string {
	var b strings.Builder
	b.WriteString("You route customer messages for a logistics assistant. Pick the single agent that should answer.\n\nAgents:\n")
	for _, agent := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", agent.Name, agent.Description)
	}
	b.WriteString("\nAnswer with exactly one agent name from the list and nothing else.\n")
	b.WriteString("Answer MULTI_INTENT when the message asks for several unrelated things at once.\n")
	b.WriteString("Answer UNCLEAR when no agent fits the message.\n")
	switch language {
	case "vi":
		b.WriteString("The user writes in Vietnamese.\n")
	case "en":
		b.WriteString("The user writes in English.\n")
	}
	return b.String()
}

// parseIntent maps raw classifier output to an authorized agent name or
// a clarification label. Unrecognized output is UNCLEAR rather than an
// error: a rambling classifier must not fail the request.
func parseIntent(raw string, agents []*catalog.AgentSpec) string {
	out := strings.TrimSpace(raw)
	if out == labelMultiIntent || out == labelUnclear {
		return out
	}
	if findAgent(agents, out) != nil {
		return out
	}

	firstLine, _, _ := strings.Cut(out, "\n")
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == labelMultiIntent || firstLine == labelUnclear {
		return firstLine
	}
	if findAgent(agents, firstLine) != nil {
		return firstLine
	}
	return labelUnclear
}

func findAgent(agents []*catalog.AgentSpec, name string) *catalog.AgentSpec {
	for _, agent := range agents {
		if agent.Name == name {
			return agent
		}
	}
	return nil
}

func clarification(intent, language string) *Outcome {
	return &Outcome{
		Intent:   intent,
		Language: language,
		Text:     clarificationText(intent, language),
	}
}

// clarificationText returns the canned reply for a clarification
// intent. Vietnamese is the primary audience; English covers the rest.
func clarificationText(intent, language string) string {
	switch {
	case intent == IntentMultiIntent && language == "vi":
		return "Bạn vui lòng hỏi từng việc một để mình hỗ trợ chính xác hơn nhé."
	case intent == IntentMultiIntent:
		return "Please ask about one thing at a time so I can help you accurately."
	case language == "vi":
		return "Xin lỗi, mình chưa hiểu rõ yêu cầu của bạn. Bạn có thể diễn đạt lại được không?"
	default:
		return "Sorry, I did not quite understand your request. Could you rephrase it?"
	}
}

// vietnameseLetters are the letters Vietnamese orthography uses beyond
// plain ASCII. One occurrence tags the whole message.
const vietnameseLetters = "ăâđêôơưáàảãạắằẳẵặấầẩẫậéèẻẽẹếềểễệíìỉĩịóòỏõọốồổỗộớờởỡợúùủũụứừửữựýỳỷỹỵ"

// DetectLanguage tags text "vi" when it contains Vietnamese letters and
// "en" otherwise. Text is NFC-normalized first so decomposed accents,
// common on mobile keyboards, still match.
func DetectLanguage(text string) string {
	for _, r := range norm.NFC.String(text) {
		if strings.ContainsRune(vietnameseLetters, unicode.ToLower(r)) {
			return "vi"
		}
	}
	return "en"
}
