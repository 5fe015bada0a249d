//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package model defines the provider-agnostic language model interface
// and its request/response types.
package model

import "context"

// Model is the interface for all language models.
type Model interface {
	// GenerateContent runs one chat completion and returns the final
	// response. Adapters must honor ctx cancellation and deadlines.
	GenerateContent(ctx context.Context, request *Request) (*Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a model.
type Info struct {
	// Name is the provider model name, e.g. "gpt-4o-mini".
	Name string
}
