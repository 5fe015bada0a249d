//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultClientTimeout = 15 * time.Second

// Client is the HTTP Retriever over the knowledge-base service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures NewClient.
type ClientOption func(*Client)

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each retrieval call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a Retriever talking to the KB service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type queryRequest struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
}

type queryResponse struct {
	Documents []*Document `json:"documents"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
}

// Retrieve implements Retriever.
func (c *Client) Retrieve(ctx context.Context, query *Query) (*Result, error) {
	topK := query.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	body, err := json.Marshal(queryRequest{
		TenantID: query.TenantID,
		Query:    query.Text,
		TopK:     topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal knowledge query failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build knowledge request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Body is bounded before reading: error pages can be arbitrarily large.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("knowledge service returned %d: %s", resp.StatusCode, detail)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode knowledge response failed: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("knowledge query rejected: %s", out.Error)
	}
	return &Result{Documents: out.Documents}, nil
}
