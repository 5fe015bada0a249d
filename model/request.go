//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// ToolID is the tool call ID this message responds to. Only set on
	// tool messages.
	ToolID string `json:"tool_id,omitempty"`

	// ToolName is the name of the tool that produced this message. Only
	// set on tool messages.
	ToolName string `json:"tool_name,omitempty"`

	// ToolCalls are the tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	// Type is the type of the tool call, always "function" today.
	Type string `json:"type"`

	// Function holds the function name and raw JSON arguments.
	Function FunctionDefinitionParam `json:"function"`

	// ID identifies the call so the tool result can be correlated.
	ID string `json:"id,omitempty"`
}

// FunctionDefinitionParam carries the function name and arguments of a
// tool call.
type FunctionDefinitionParam struct {
	// Name is the function name to call.
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload produced by the model.
	Arguments []byte `json:"arguments,omitempty"`
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a new tool message carrying a tool result.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{
		Role:     RoleTool,
		ToolID:   toolID,
		ToolName: toolName,
		Content:  content,
	}
}

// GenerationConfig contains provider-agnostic generation parameters.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness, 0.0 to 2.0.
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling parameter, 0.0 to 1.0.
	TopP *float64 `json:"top_p,omitempty"`

	// Stop lists sequences where the model stops generating.
	Stop []string `json:"stop,omitempty"`
}

// Request is a chat completion request for a Model.
type Request struct {
	// Messages is the conversation so far, oldest first.
	Messages []Message `json:"messages"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`

	// Tools are the tool declarations exposed to the model for this
	// request. Not serialized with the request body; each adapter
	// converts them to its provider's wire format.
	Tools []*tool.Declaration `json:"-"`
}
