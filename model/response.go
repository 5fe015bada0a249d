//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package model

// Error type constants for ResponseError.Type field.
const (
	ErrorTypeAPIError = "api_error"
)

// Object type constants for Response.Object field.
const (
	ObjectTypeError = "error"
	// ObjectTypeChatCompletion is the object type for chat completions.
	ObjectTypeChatCompletion = "chat.completion"
	// ObjectTypeToolResponse is the object type for tool responses.
	ObjectTypeToolResponse = "tool.response"
)

// Response is a chat completion response from a Model.
type Response struct {
	// ID is the provider-assigned response identifier.
	ID string `json:"id,omitempty"`

	// Object is the object type, e.g. "chat.completion".
	Object string `json:"object,omitempty"`

	// Created is the Unix timestamp the response was created at.
	Created int64 `json:"created,omitempty"`

	// Model is the model that produced the response.
	Model string `json:"model,omitempty"`

	// Choices are the completion choices; index 0 is the primary one.
	Choices []Choice `json:"choices,omitempty"`

	// Usage is the token accounting for the request, when the provider
	// reports it.
	Usage *Usage `json:"usage,omitempty"`

	// Error carries a provider error instead of choices.
	Error *ResponseError `json:"error,omitempty"`
}

// Choice is a single completion choice.
type Choice struct {
	// Index is the index of the choice.
	Index int `json:"index"`

	// Message is the assistant message for this choice.
	Message Message `json:"message"`

	// FinishReason is why generation stopped: "stop", "tool_calls",
	// "length" or a provider-specific value.
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage reports token consumption for one model call.
type Usage struct {
	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the completion.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total number of tokens consumed.
	TotalTokens int `json:"total_tokens"`
}

// ResponseError is a structured provider error.
type ResponseError struct {
	// Message is a human-readable error description.
	Message string `json:"message"`

	// Type is the error category, e.g. "api_error".
	Type string `json:"type,omitempty"`

	// Code is the provider error code, when available.
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return e.Message
}

// IsToolCallResponse reports whether the response asks for tool calls.
func (r *Response) IsToolCallResponse() bool {
	return len(r.Choices) > 0 && len(r.Choices[0].Message.ToolCalls) > 0
}
