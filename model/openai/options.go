//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	openaiopt "github.com/openai/openai-go/option"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
)

// options contains configuration options for creating a Model.
type options struct {
	// API key for the OpenAI client.
	APIKey string
	// Base URL for the OpenAI client. It is optional for OpenAI-compatible APIs.
	BaseURL string
	// Options for the HTTP client.
	HTTPClientOptions []model.HTTPClientOption
	// Options for the OpenAI client.
	OpenAIOptions []openaiopt.RequestOption
	// Variant for endpoint-specific behavior.
	Variant Variant
}

var defaultOptions = options{
	Variant: VariantOpenAI, // The default variant is VariantOpenAI.
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the OpenAI client.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL sets the base URL for the OpenAI client.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithHTTPClientOptions sets the HTTP client options for the OpenAI client.
func WithHTTPClientOptions(httpOpts ...model.HTTPClientOption) Option {
	return func(opts *options) {
		opts.HTTPClientOptions = httpOpts
	}
}

// WithOpenAIOptions appends raw OpenAI request options to the client.
// E.g. use its middleware option:
//
//	import (
//		openaiopt "github.com/openai/openai-go/option"
//	)
//
//	WithOpenAIOptions(openaiopt.WithMiddleware(
//		func(req *http.Request, next openaiopt.MiddlewareNext) (*http.Response, error) {
//			// do something
//			return next(req)
//		},
//	))
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(opts *options) {
		opts.OpenAIOptions = append(opts.OpenAIOptions, openaiOpts...)
	}
}

// WithVariant sets the endpoint variant.
// The default variant is VariantOpenAI.
// Optional variants are:
// - VariantOpenRouter: OpenRouter endpoint with its own base URL and key.
func WithVariant(variant Variant) Option {
	return func(opts *options) {
		opts.Variant = variant
	}
}
