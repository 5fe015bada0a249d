//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package openai implements the model.Model interface on top of the
// official OpenAI Go SDK. The same adapter serves every endpoint that
// speaks the OpenAI chat completion protocol; variants select the base
// URL and the API key environment fallback.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

const (
	//nolint:gosec
	openAIAPIKeyName string = "OPENAI_API_KEY"

	//nolint:gosec
	openRouterAPIKeyName     string = "OPENROUTER_API_KEY"
	defaultOpenRouterBaseURL string = "https://openrouter.ai/api/v1"
)

// Variant represents different OpenAI-compatible endpoints with specific
// base URL and API key handling.
type Variant string

const (
	// VariantOpenAI is the default OpenAI variant.
	VariantOpenAI Variant = "openai"
	// VariantOpenRouter is the OpenRouter variant with its own base URL.
	VariantOpenRouter Variant = "openrouter"
)

// variantConfig holds configuration for different variants.
type variantConfig struct {
	// Default base URL for this variant.
	defaultBaseURL string
	// Default API key environment name for this variant.
	apiKeyName string
}

// variantConfigs maps variant names to their configurations.
var variantConfigs = map[Variant]variantConfig{
	VariantOpenAI: {
		apiKeyName: openAIAPIKeyName,
	},
	VariantOpenRouter: {
		apiKeyName:     openRouterAPIKeyName,
		defaultBaseURL: defaultOpenRouterBaseURL,
	},
}

// Model implements the model.Model interface for the OpenAI API.
type Model struct {
	client        openai.Client
	name          string
	baseURL       string
	variant       Variant
	variantConfig variantConfig
}

// New creates a new OpenAI-like model.
func New(name string, opts ...Option) *Model {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Set default API key and base URL if not specified.
	if cfg, ok := variantConfigs[o.Variant]; ok {
		if val, ok := os.LookupEnv(cfg.apiKeyName); ok && o.APIKey == "" {
			o.APIKey = val
		}
		if cfg.defaultBaseURL != "" && o.BaseURL == "" {
			o.BaseURL = cfg.defaultBaseURL
		}
	}

	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts, openaiopt.WithHTTPClient(model.DefaultNewHTTPClient(o.HTTPClientOptions...)))
	clientOpts = append(clientOpts, o.OpenAIOptions...)

	return &Model{
		client:        openai.NewClient(clientOpts...),
		name:          name,
		baseURL:       o.BaseURL,
		variant:       o.Variant,
		variantConfig: variantConfigs[o.Variant],
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{
		Name: m.name,
	}
}

// GenerateContent implements the model.Model interface. Provider API
// errors are reported inside the response so callers can map them to
// their own error taxonomy; only invalid input yields a Go error.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (*model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	chatRequest := m.buildChatRequest(request)

	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		return &model.Response{
			Object: model.ObjectTypeError,
			Error: &model.ResponseError{
				Message: err.Error(),
				Type:    model.ErrorTypeAPIError,
			},
		}, nil
	}
	return m.convertResponse(chatCompletion), nil
}

// buildChatRequest builds the chat completion request from a model request.
func (m *Model) buildChatRequest(request *model.Request) openai.ChatCompletionNewParams {
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: m.convertMessages(request.Messages),
		Tools:    m.convertTools(request.Tools),
	}

	// Apply generation parameters.
	if v := request.MaxTokens; v != nil && *v > 0 {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*v))
	}
	if v := request.Temperature; v != nil {
		chatRequest.Temperature = openai.Float(*v)
	}
	if v := request.TopP; v != nil {
		chatRequest.TopP = openai.Float(*v)
	}
	if len(request.Stop) > 0 {
		// The union stop parameter takes a single sequence here.
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(request.Stop[0]),
		}
	}
	return chatRequest
}

// convertMessages converts our Message format to OpenAI's format.
func (m *Model) convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		case model.RoleAssistant:
			assistantMsg := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: m.convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfAssistant: assistantMsg,
			}
		case model.RoleTool:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolID,
				},
			}
		default: // Default to user message if role is unknown.
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		}
	}
	return result
}

func (m *Model) convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: toolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Function.Name,
				Arguments: string(toolCall.Function.Arguments),
			},
		})
	}
	return result
}

func (m *Model) convertTools(tools []*tool.Declaration) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, declaration := range tools {
		// Round-trip the schema through JSON to match OpenAI's expected format.
		schemaBytes, err := json.Marshal(declaration.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

// convertResponse converts an OpenAI chat completion to our response format.
func (m *Model) convertResponse(chatCompletion *openai.ChatCompletion) *model.Response {
	response := &model.Response{
		ID:      chatCompletion.ID,
		Object:  string(chatCompletion.Object),
		Created: chatCompletion.Created,
		Model:   chatCompletion.Model,
	}

	if len(chatCompletion.Choices) > 0 {
		response.Choices = make([]model.Choice, len(chatCompletion.Choices))
		for i, choice := range chatCompletion.Choices {
			response.Choices[i] = model.Choice{
				Index: int(choice.Index),
				Message: model.Message{
					Role:    model.RoleAssistant,
					Content: choice.Message.Content,
				},
			}

			response.Choices[i].Message.ToolCalls = make([]model.ToolCall, len(choice.Message.ToolCalls))
			for j, toolCall := range choice.Message.ToolCalls {
				synthesizedID := toolCall.ID
				if synthesizedID == "" {
					// Synthesize IDs for providers that omit them.
					synthesizedID = fmt.Sprintf("auto_call_%d", j)
				}
				response.Choices[i].Message.ToolCalls[j] = model.ToolCall{
					ID:   synthesizedID,
					Type: string(toolCall.Type),
					Function: model.FunctionDefinitionParam{
						Name:      toolCall.Function.Name,
						Arguments: []byte(toolCall.Function.Arguments),
					},
				}
			}

			// FinishReason is a plain string on the wire.
			if choice.FinishReason != "" {
				finishReason := choice.FinishReason
				response.Choices[i].FinishReason = &finishReason
			}
		}
	}

	if chatCompletion.Usage.PromptTokens > 0 || chatCompletion.Usage.CompletionTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(chatCompletion.Usage.PromptTokens),
			CompletionTokens: int(chatCompletion.Usage.CompletionTokens),
			TotalTokens:      int(chatCompletion.Usage.TotalTokens),
		}
	}
	return response
}
