//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package ragtool bridges RAG tool specs to the external knowledge-base
// service. The tenant scope comes from the request context, never from
// model-supplied arguments.
package ragtool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/knowledge"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

const defaultTimeout = 30 * time.Second

// Tool is a CallableTool over one RAG ToolSpec.
type Tool struct {
	spec        *catalog.ToolSpec
	declaration *tool.Declaration
	retriever   knowledge.Retriever
	timeout     time.Duration
}

// New compiles a RAG tool spec against the given retriever.
func New(spec *catalog.ToolSpec, declaration *tool.Declaration, retriever knowledge.Retriever) *Tool {
	return &Tool{
		spec:        spec,
		declaration: declaration,
		retriever:   retriever,
		timeout:     spec.Timeout(defaultTimeout),
	}
}

// Declaration implements tool.Tool.
func (t *Tool) Declaration() *tool.Declaration {
	return t.declaration
}

type queryArgs struct {
	QueryText string `json:"query_text"`
	TopK      int    `json:"top_k"`
}

// Call implements tool.CallableTool. Retrieval failures come back as
// {error, detail} values so the model can recover within its loop.
func (t *Tool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var args queryArgs
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &args); err != nil {
			return map[string]any{
				"error":  "invalid tool arguments",
				"detail": err.Error(),
			}, nil
		}
	}
	if args.QueryText == "" {
		return map[string]any{"error": "query_text must not be empty"}, nil
	}

	tenantID, ok := tool.TenantFromContext(ctx)
	if !ok || tenantID == "" {
		// Retrieval without a tenant scope would search nothing or,
		// worse, everything.
		return map[string]any{"error": "no tenant scope on this request"}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := t.retriever.Retrieve(callCtx, &knowledge.Query{
		TenantID: tenantID,
		Text:     args.QueryText,
		TopK:     args.TopK,
	})
	if err != nil {
		log.Warnf("tool %s: knowledge query failed: %v", t.spec.Name, err)
		return map[string]any{
			"error":  "knowledge base query failed",
			"detail": err.Error(),
		}, nil
	}

	documents := result.Documents
	if documents == nil {
		documents = []*knowledge.Document{}
	}
	return map[string]any{
		"documents": documents,
		"success":   true,
	}, nil
}
