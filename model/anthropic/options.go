//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
)

// options contains configuration options for creating an Anthropic model.
type options struct {
	// API key for the Anthropic client.
	apiKey string
	// Base URL for the Anthropic client.
	baseURL string
	// Options for the HTTP client.
	httpClientOptions []model.HTTPClientOption
	// Options for building the Anthropic client.
	anthropicClientOptions []option.RequestOption
	// Options applied per request.
	anthropicRequestOptions []option.RequestOption
}

var defaultOptions = options{}

// Option is a function that configures an Anthropic model.
type Option func(*options)

// WithAPIKey sets the API key for the Anthropic client.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL sets the base URL for the Anthropic client.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClientOptions sets the HTTP client options for the Anthropic client.
func WithHTTPClientOptions(httpOpts ...model.HTTPClientOption) Option {
	return func(o *options) {
		o.httpClientOptions = httpOpts
	}
}

// WithAnthropicClientOptions appends raw client options for the
// underlying SDK client.
func WithAnthropicClientOptions(clientOpts ...option.RequestOption) Option {
	return func(o *options) {
		o.anthropicClientOptions = append(o.anthropicClientOptions, clientOpts...)
	}
}

// WithAnthropicRequestOptions appends raw request options applied to
// every Messages API call.
func WithAnthropicRequestOptions(requestOpts ...option.RequestOption) Option {
	return func(o *options) {
		o.anthropicRequestOptions = append(o.anthropicRequestOptions, requestOpts...)
	}
}
