//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package gemini

import (
	"google.golang.org/genai"
)

// options contains configuration options for creating a Gemini model.
type options struct {
	// geminiClientConfig for building the genai client.
	geminiClientConfig *genai.ClientConfig
}

var defaultOptions = options{}

// Option is a function that configures a Gemini model.
type Option func(*options)

// WithGeminiClientConfig sets the ClientConfig used for client
// initialization. It replaces any previously set config.
func WithGeminiClientConfig(c *genai.ClientConfig) Option {
	return func(opts *options) {
		opts.geminiClientConfig = c
	}
}

// WithAPIKey sets the API key on the client config, creating the config
// when none was supplied.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		if opts.geminiClientConfig == nil {
			opts.geminiClientConfig = &genai.ClientConfig{
				Backend: genai.BackendGeminiAPI,
			}
		}
		opts.geminiClientConfig.APIKey = key
	}
}
