//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package gemini implements the model.Model interface for the Gemini
// API via the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

// Client is the GenAI client surface the adapter depends on. Wrapping
// the SDK client behind this interface keeps the adapter testable.
type Client interface {
	Models() Models
}

// Models provides methods for interacting with the available language models.
type Models interface {
	// GenerateContent generates content based on the provided model,
	// contents, and configuration.
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// clientWrapper implements Client on the real SDK client.
type clientWrapper struct {
	client *genai.Client
}

// Models implements Client.
func (c *clientWrapper) Models() Models {
	return &modelsWrapper{models: c.client.Models}
}

// modelsWrapper implements Models on the real SDK models service.
type modelsWrapper struct {
	models *genai.Models
}

// GenerateContent implements Models.
func (m *modelsWrapper) GenerateContent(ctx context.Context, model string, contents []*genai.Content,
	config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.models.GenerateContent(ctx, model, contents, config)
}

// Model implements the model.Model interface for the Gemini API.
type Model struct {
	client Client
	name   string
}

// New creates a new Gemini model adapter.
func New(ctx context.Context, name string, opts ...Option) (*Model, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	client, err := genai.NewClient(ctx, o.geminiClientConfig)
	if err != nil {
		return nil, err
	}
	return &Model{
		client: &clientWrapper{client: client},
		name:   name,
	}, nil
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{
		Name: m.name,
	}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (*model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	contents := m.convertMessages(request.Messages)
	config := m.buildChatConfig(request)

	chatCompletion, err := m.client.Models().GenerateContent(ctx, m.name, contents, config)
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

func (m *Model) buildChatConfig(request *model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Tools: m.convertTools(request.Tools),
	}

	// AUTO mode lets the model decide between calling tools and
	// answering with text.
	if len(request.Tools) > 0 {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}

	if request.MaxTokens != nil {
		config.MaxOutputTokens = int32(*request.MaxTokens)
	}
	if request.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*request.Temperature))
	}
	if request.TopP != nil {
		config.TopP = genai.Ptr(float32(*request.TopP))
	}
	if len(request.Stop) > 0 {
		config.StopSequences = request.Stop
	}
	return config
}

// convertMessages converts our Message format to Gemini contents.
// Gemini has no system or tool role in contents: system prompts travel
// as user-role text, tool results as function response parts.
func (m *Model) convertMessages(messages []model.Message) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			result = append(result, convertAssistantMessage(msg))
		case model.RoleTool:
			result = append(result, convertToolMessage(msg))
		default:
			result = append(result, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return result
}

func convertAssistantMessage(msg model.Message) *genai.Content {
	parts := make([]*genai.Part, 0, 1+len(msg.ToolCalls))
	if msg.Content != "" {
		parts = append(parts, &genai.Part{Text: msg.Content})
	}
	for _, toolCall := range msg.ToolCalls {
		var args map[string]any
		if len(toolCall.Function.Arguments) > 0 {
			_ = json.Unmarshal(toolCall.Function.Arguments, &args)
		}
		parts = append(parts, genai.NewPartFromFunctionCall(toolCall.Function.Name, args))
	}
	return genai.NewContentFromParts(parts, genai.RoleModel)
}

func convertToolMessage(msg model.Message) *genai.Content {
	var response map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
		// Non-object tool output is wrapped so the API still accepts it.
		response = map[string]any{"output": msg.Content}
	}
	part := genai.NewPartFromFunctionResponse(msg.ToolName, response)
	return genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser)
}

func (m *Model) convertTools(tools []*tool.Declaration) []*genai.Tool {
	result := make([]*genai.Tool, 0, len(tools))
	for _, decl := range tools {
		result = append(result, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:                 decl.Name,
				Description:          decl.Description,
				ParametersJsonSchema: decl.InputSchema,
			}},
		})
	}
	return result
}

func (m *Model) convertResponse(rsp *genai.GenerateContentResponse) *model.Response {
	response := &model.Response{
		ID:     rsp.ResponseID,
		Object: model.ObjectTypeChatCompletion,
		Model:  rsp.ModelVersion,
	}
	if !rsp.CreateTime.IsZero() {
		response.Created = rsp.CreateTime.Unix()
	}

	message, finishReason := convertCandidates(rsp.Candidates)
	response.Choices = []model.Choice{
		{
			Index:   0,
			Message: message,
		},
	}
	if finishReason != "" {
		response.Choices[0].FinishReason = &finishReason
	}
	if usage := rsp.UsageMetadata; usage != nil {
		response.Usage = &model.Usage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	return response
}

func convertCandidates(candidates []*genai.Candidate) (model.Message, string) {
	var (
		textBuilder  strings.Builder
		toolCalls    []model.ToolCall
		finishReason string
	)
	for _, candidate := range candidates {
		if candidate.FinishReason != "" {
			finishReason = string(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				textBuilder.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				callID := part.FunctionCall.ID
				if callID == "" {
					// Gemini frequently omits call IDs; synthesize them
					// so tool results can be correlated.
					callID = fmt.Sprintf("auto_call_%d", len(toolCalls))
				}
				toolCalls = append(toolCalls, model.ToolCall{
					ID:   callID,
					Type: "function",
					Function: model.FunctionDefinitionParam{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				})
			}
		}
	}
	return model.Message{
		Role:      model.RoleAssistant,
		Content:   textBuilder.String(),
		ToolCalls: toolCalls,
	}, finishReason
}
