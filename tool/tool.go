//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package tool defines the tool abstraction shared by the registry, the
// model adapters and the agent executor.
package tool

import "context"

// Tool is the minimal interface every tool implements. A tool only needs
// to describe itself; whether it can be invoked is expressed by the
// CallableTool extension.
type Tool interface {
	// Declaration returns the metadata advertised to the language model.
	Declaration() *Declaration
}

// CallableTool is a tool that can be invoked with JSON-encoded arguments.
// Call returns the tool result as a JSON-marshalable value. Execution
// failures that the model should see are returned as values, not errors.
type CallableTool interface {
	Tool

	// Call executes the tool with the provided JSON arguments.
	Call(ctx context.Context, jsonArgs []byte) (any, error)
}

// Declaration describes a tool to the language model: its name, what it
// does and the JSON schema of its arguments.
//
// Tool names must comply with LLM API requirements. Use only English
// letters, numbers, underscores and hyphens (^[a-zA-Z0-9_-]+$).
type Declaration struct {
	// Name is the unique tool name within one agent's tool set.
	Name string `json:"name"`
	// Description tells the model when and how to use the tool.
	Description string `json:"description"`
	// InputSchema constrains the arguments the model may produce.
	InputSchema *Schema `json:"input_schema,omitempty"`
	// OutputSchema, when present, describes the result shape.
	OutputSchema *Schema `json:"output_schema,omitempty"`
}

// Schema is the JSON Schema subset used for tool parameters. It covers
// the keywords tenant administrators actually use in tool definitions;
// unknown keywords are rejected at registration time, not here.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
	Format      string             `json:"format,omitempty"`
	Default     any                `json:"default,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`
	MaxLength   *int               `json:"maxLength,omitempty"`
	// AdditionalProperties follows JSON Schema: bool or *Schema.
	AdditionalProperties any `json:"additionalProperties,omitempty"`
}
