//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/model/anthropic"
	"github.com/myle1996kh/ITL-PGVector-sub000/model/gemini"
	"github.com/myle1996kh/ITL-PGVector-sub000/model/openai"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
)

// Provider tags recognized out of the box. Catalog rows carry one of
// these in llm_provider_models.provider.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

// ProviderBuilder constructs a model client for one provider. The API
// key arrives already decrypted and must not be retained anywhere but
// inside the constructed client.
type ProviderBuilder func(ctx context.Context, modelName, apiKey string) (model.Model, error)

var (
	builderMu sync.RWMutex
	builders  = map[string]ProviderBuilder{}
)

// RegisterProviderBuilder registers a builder under a provider tag.
// Last registration wins, which lets tests substitute builders.
func RegisterProviderBuilder(provider string, builder ProviderBuilder) {
	builderMu.Lock()
	defer builderMu.Unlock()
	builders[strings.ToLower(provider)] = builder
}

// providerBuilder returns the registered builder for the provider tag.
func providerBuilder(provider string) (ProviderBuilder, bool) {
	builderMu.RLock()
	defer builderMu.RUnlock()
	builder, ok := builders[strings.ToLower(provider)]
	return builder, ok
}

// CodeForProviderError picks a status code for a provider error. The
// adapters flatten the upstream HTTP status into the message text, so
// substring matching is the only signal available.
func CodeForProviderError(respErr *model.ResponseError) status.Code {
	if respErr == nil {
		return status.CodeLLMTransportError
	}
	msg := strings.ToLower(respErr.Message)
	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "incorrect api key"):
		return status.CodeLLMAuthError
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"):
		return status.CodeRateLimited
	default:
		return status.CodeLLMTransportError
	}
}

func init() {
	RegisterProviderBuilder(ProviderOpenAI, func(_ context.Context, modelName, apiKey string) (model.Model, error) {
		return openai.New(modelName, openai.WithAPIKey(apiKey)), nil
	})
	RegisterProviderBuilder(ProviderOpenRouter, func(_ context.Context, modelName, apiKey string) (model.Model, error) {
		return openai.New(modelName,
			openai.WithAPIKey(apiKey),
			openai.WithVariant(openai.VariantOpenRouter),
		), nil
	})
	RegisterProviderBuilder(ProviderAnthropic, func(_ context.Context, modelName, apiKey string) (model.Model, error) {
		return anthropic.New(modelName, anthropic.WithAPIKey(apiKey)), nil
	})
	RegisterProviderBuilder(ProviderGemini, func(ctx context.Context, modelName, apiKey string) (model.Model, error) {
		return gemini.New(ctx, modelName, gemini.WithAPIKey(apiKey))
	})
}
