//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package anthropic implements the model.Model interface for the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

const functionToolType = "function"

// defaultMaxTokens is used when the request does not set MaxTokens.
// The Messages API requires max_tokens on every call.
const defaultMaxTokens = 4096

// Model implements the model.Model interface for the Anthropic API.
type Model struct {
	client                  anthropic.Client
	name                    string
	baseURL                 string
	anthropicRequestOptions []option.RequestOption
}

// New creates a new Anthropic model adapter.
func New(name string, opts ...Option) *Model {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}

	var clientOpts []option.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, option.WithHTTPClient(model.DefaultNewHTTPClient(o.httpClientOptions...)))
	clientOpts = append(clientOpts, o.anthropicClientOptions...)

	return &Model{
		client:                  anthropic.NewClient(clientOpts...),
		name:                    name,
		baseURL:                 o.baseURL,
		anthropicRequestOptions: o.anthropicRequestOptions,
	}
}

// Info returns the model information.
func (m *Model) Info() model.Info {
	return model.Info{
		Name: m.name,
	}
}

// GenerateContent generates content from the model.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (*model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	chatRequest, err := m.buildChatRequest(request)
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}

	message, err := m.client.Messages.New(ctx, *chatRequest, m.anthropicRequestOptions...)
	if err != nil {
		return &model.Response{
			Object: model.ObjectTypeError,
			Error: &model.ResponseError{
				Message: err.Error(),
				Type:    model.ErrorTypeAPIError,
			},
		}, nil
	}
	return convertResponse(message), nil
}

func (m *Model) buildChatRequest(request *model.Request) (*anthropic.MessageNewParams, error) {
	// System prompts travel outside the conversation on this API.
	messages, systemPrompts := convertMessages(request.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("request must include at least one message")
	}

	chatRequest := &anthropic.MessageNewParams{
		Model:    anthropic.Model(m.name),
		Messages: messages,
		Tools:    convertTools(request.Tools),
	}
	if len(systemPrompts) > 0 {
		chatRequest.System = systemPrompts
	}
	if request.MaxTokens != nil {
		chatRequest.MaxTokens = int64(*request.MaxTokens)
	}
	if chatRequest.MaxTokens == 0 {
		chatRequest.MaxTokens = defaultMaxTokens
	}
	if request.Temperature != nil {
		chatRequest.Temperature = anthropic.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = anthropic.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		chatRequest.StopSequences = append(chatRequest.StopSequences, request.Stop...)
	}
	return chatRequest, nil
}

func convertResponse(message *anthropic.Message) *model.Response {
	response := &model.Response{
		ID:      message.ID,
		Object:  model.ObjectTypeChatCompletion,
		Created: time.Now().Unix(),
		Model:   string(message.Model),
	}
	response.Choices = []model.Choice{
		{
			Index:   0,
			Message: convertContentBlock(message.Content),
		},
	}
	if finishReason := strings.TrimSpace(string(message.StopReason)); finishReason != "" {
		response.Choices[0].FinishReason = &finishReason
	}
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		}
	}
	return response
}

// convertContentBlock flattens the assistant content blocks into a single
// message: text blocks concatenated, tool use blocks as tool calls.
func convertContentBlock(contents []anthropic.ContentBlockUnion) model.Message {
	var (
		textBuilder strings.Builder
		toolCalls   []model.ToolCall
	)
	for _, content := range contents {
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			textBuilder.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, model.ToolCall{
				Type: functionToolType,
				ID:   block.ID,
				Function: model.FunctionDefinitionParam{
					Name:      block.Name,
					Arguments: block.Input,
				},
			})
		}
	}
	return model.Message{
		Role:      model.RoleAssistant,
		Content:   textBuilder.String(),
		ToolCalls: toolCalls,
	}
}

// convertTools maps our tool declarations to Anthropic tool parameters.
func convertTools(tools []*tool.Declaration) []anthropic.ToolUnionParam {
	var result []anthropic.ToolUnionParam
	for _, declaration := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if declaration.InputSchema != nil {
			inputSchema.Properties = declaration.InputSchema.Properties
			inputSchema.Required = declaration.InputSchema.Required
		}
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        declaration.Name,
				Description: anthropic.String(declaration.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return result
}

// convertMessages builds Anthropic message parameters and system prompts.
func convertMessages(messages []model.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	conversation := make([]anthropic.MessageParam, 0, len(messages))
	systemPrompts := make([]anthropic.TextBlockParam, 0)
	for _, message := range messages {
		switch message.Role {
		case model.RoleSystem:
			if message.Content != "" {
				systemPrompts = append(systemPrompts, anthropic.TextBlockParam{Text: message.Content})
			}
		case model.RoleAssistant:
			conversation = append(conversation, convertAssistantMessageContent(message))
		case model.RoleTool:
			conversation = append(conversation, convertToolResult(message))
		default:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(message.Content)))
		}
	}
	return conversation, systemPrompts
}

// convertAssistantMessageContent converts an assistant message including
// tool calls into Anthropic format.
func convertAssistantMessageContent(message model.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(message.ToolCalls))
	if message.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(message.Content))
	}
	for _, toolCall := range message.ToolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(
			toolCall.ID,
			decodeToolArguments(toolCall.Function.Arguments),
			toolCall.Function.Name,
		))
	}
	return anthropic.NewAssistantMessage(blocks...)
}

// decodeToolArguments parses JSON bytes into any, returning an empty
// object on failure.
func decodeToolArguments(args []byte) any {
	if len(args) == 0 {
		return map[string]any{}
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return map[string]any{}
	}
	return decoded
}

// convertToolResult wraps a tool result into a user message with a
// ToolResult block.
func convertToolResult(message model.Message) anthropic.MessageParam {
	return anthropic.NewUserMessage(anthropic.NewToolResultBlock(message.ToolID, message.Content, false))
}
