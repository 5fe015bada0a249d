//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openaiopt "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

func TestNew_Defaults(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))
	require.NotNil(t, m)
	assert.Equal(t, "gpt-4o-mini", m.Info().Name)
	assert.Equal(t, VariantOpenAI, m.variant)
	assert.Empty(t, m.baseURL)
}

func TestNew_OpenRouterVariant(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "router-key")

	m := New("anthropic/claude-3.5-sonnet", WithVariant(VariantOpenRouter))
	assert.Equal(t, defaultOpenRouterBaseURL, m.baseURL)

	// An explicit base URL wins over the variant default.
	m = New("anthropic/claude-3.5-sonnet",
		WithVariant(VariantOpenRouter),
		WithBaseURL("https://proxy.internal/v1"),
	)
	assert.Equal(t, "https://proxy.internal/v1", m.baseURL)
}

func TestGenerateContent_NilRequest(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))

	_, err := m.GenerateContent(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, "request cannot be nil", err.Error())
}

func TestGenerateContent_TextResponse(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1719000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "Xin chào!"},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer srv.Close()

	m := New("gpt-4o-mini", WithAPIKey("test-key"), WithBaseURL(srv.URL))

	maxTokens := 128
	temperature := 0.2
	resp, err := m.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage("You are a shipping assistant."),
			model.NewUserMessage("Chào bạn"),
		},
		GenerationConfig: model.GenerationConfig{
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			Stop:        []string{"END"},
		},
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Xin chào!", resp.Choices[0].Message.Content)
	assert.Equal(t, model.RoleAssistant, resp.Choices[0].Message.Role)
	require.NotNil(t, resp.Choices[0].FinishReason)
	assert.Equal(t, "stop", *resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	// The wire request carries the generation parameters.
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.Equal(t, float64(128), gotBody["max_completion_tokens"])
	assert.Equal(t, 0.2, gotBody["temperature"])
	assert.Equal(t, "END", gotBody["stop"])
	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestGenerateContent_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-456",
			"object": "chat.completion",
			"created": 1719000001,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [
						{"id": "call_abc", "type": "function", "function": {"name": "get_rate", "arguments": "{\"route\":\"SGN-LAX\"}"}},
						{"type": "function", "function": {"name": "get_schedule", "arguments": "{}"}}
					]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer srv.Close()

	m := New("gpt-4o-mini", WithAPIKey("test-key"), WithBaseURL(srv.URL))

	resp, err := m.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("Giá cước đi LAX?")},
	})
	require.NoError(t, err)
	require.True(t, resp.IsToolCallResponse())

	calls := resp.Choices[0].Message.ToolCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "call_abc", calls[0].ID)
	assert.Equal(t, "get_rate", calls[0].Function.Name)
	assert.JSONEq(t, `{"route":"SGN-LAX"}`, string(calls[0].Function.Arguments))
	// Providers that omit the call ID get a synthesized one.
	assert.Equal(t, "auto_call_1", calls[1].ID)
}

func TestGenerateContent_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	m := New("gpt-4o-mini",
		WithAPIKey("bad-key"),
		WithBaseURL(srv.URL),
		WithOpenAIOptions(openaiopt.WithMaxRetries(0)),
	)

	resp, err := m.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, model.ErrorTypeAPIError, resp.Error.Type)
	assert.NotEmpty(t, resp.Error.Message)
	assert.Empty(t, resp.Choices)
}

func TestConvertMessages_Roles(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))

	msgs := m.convertMessages([]model.Message{
		model.NewSystemMessage("system prompt"),
		model.NewUserMessage("user text"),
		{
			Role:    model.RoleAssistant,
			Content: "calling a tool",
			ToolCalls: []model.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: model.FunctionDefinitionParam{
					Name:      "get_rate",
					Arguments: []byte(`{"route":"SGN-LAX"}`),
				},
			}},
		},
		model.NewToolMessage("call_1", "get_rate", `{"price":120}`),
	})
	require.Len(t, msgs, 4)

	require.NotNil(t, msgs[0].OfSystem)
	assert.Equal(t, "system prompt", msgs[0].OfSystem.Content.OfString.Value)

	require.NotNil(t, msgs[1].OfUser)
	assert.Equal(t, "user text", msgs[1].OfUser.Content.OfString.Value)

	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, `{"route":"SGN-LAX"}`, msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)

	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
	assert.Equal(t, `{"price":120}`, msgs[3].OfTool.Content.OfString.Value)
}

func TestConvertMessages_UnknownRoleFallsBackToUser(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))

	msgs := m.convertMessages([]model.Message{{Role: "observer", Content: "hi"}})
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].OfUser)
}

func TestConvertTools(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))

	params := m.convertTools([]*tool.Declaration{{
		Name:        "get_rate",
		Description: "Look up the shipping rate for a route.",
		InputSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				"route": {Type: "string", Description: "Route code, e.g. SGN-LAX."},
			},
			Required: []string{"route"},
		},
	}})
	require.Len(t, params, 1)
	assert.Equal(t, "get_rate", params[0].Function.Name)
	assert.Equal(t, "Look up the shipping rate for a route.", params[0].Function.Description.Value)

	props, ok := params[0].Function.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "route")
}
