//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package knowledge provides tenant-scoped retrieval against the external
// knowledge-base service. The router treats retrieval as a black box:
// embedding generation and vector search live behind the KB endpoint.
package knowledge

import "context"

// DefaultTopK bounds a query that does not ask for a specific result count.
const DefaultTopK = 5

// Document is one retrieved chunk.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float64        `json:"distance"`
}

// Query is a tenant-scoped retrieval request.
type Query struct {
	TenantID string
	Text     string
	TopK     int
}

// Result carries the retrieved documents, nearest first.
type Result struct {
	Documents []*Document
}

// Retriever answers tenant-scoped knowledge queries.
type Retriever interface {
	Retrieve(ctx context.Context, query *Query) (*Result, error)
}
