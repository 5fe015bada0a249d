//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package llm resolves tenants to ready-to-call model clients. The
// manager reads the tenant's binding from the catalog, decrypts the
// stored API key, constructs the provider client and keeps it in a
// process-local map so steady-state requests never touch the store.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/myle1996kh/ITL-PGVector-sub000/cache"
	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/internal/cipher"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/model"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
)

// clientKey identifies one constructed client. Including the model ID
// means a binding change naturally produces a fresh entry.
type clientKey struct {
	tenantID   string
	llmModelID string
}

// clientEntry pairs a constructed client with its tenant rate limiter.
type clientEntry struct {
	model   model.Model
	limiter *rate.Limiter
}

// bindingSnapshot is the cacheable projection of a tenant's LLM
// configuration. It carries the ciphertext, never the decrypted key.
type bindingSnapshot struct {
	LLMModelID       string `json:"llm_model_id"`
	Provider         string `json:"provider"`
	ModelName        string `json:"model_name"`
	APIKeyCiphertext string `json:"api_key_ciphertext"`
	RateLimitRPM     int    `json:"rate_limit_rpm"`
}

// Manager hands out model clients per tenant.
type Manager struct {
	store  catalog.Store
	cipher *cipher.Cipher
	cache  *cache.PermissionCache

	mu      sync.RWMutex
	clients map[clientKey]*clientEntry

	group singleflight.Group
}

// ManagerOption configures NewManager.
type ManagerOption func(*Manager)

// WithPermissionCache attaches the shared permission cache so binding
// snapshots survive process restarts and are shared across replicas.
func WithPermissionCache(c *cache.PermissionCache) ManagerOption {
	return func(m *Manager) {
		m.cache = c
	}
}

// NewManager creates a Manager over the catalog store and the process
// encryption cipher.
func NewManager(store catalog.Store, cph *cipher.Cipher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		cipher:  cph,
		clients: make(map[clientKey]*clientEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetClient returns the model client for the tenant, constructing and
// caching it on first use. A tenant whose binding sets a request budget
// gets a rate_limited error once the budget is exhausted; callers may
// retry after backoff.
func (m *Manager) GetClient(ctx context.Context, tenantID string) (model.Model, error) {
	snap, err := m.loadBinding(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	key := clientKey{tenantID: tenantID, llmModelID: snap.LLMModelID}
	m.mu.RLock()
	entry, ok := m.clients[key]
	m.mu.RUnlock()

	if !ok {
		v, err, _ := m.group.Do("client/"+tenantID+"/"+snap.LLMModelID, func() (any, error) {
			m.mu.RLock()
			existing, ok := m.clients[key]
			m.mu.RUnlock()
			if ok {
				return existing, nil
			}
			built, err := m.buildEntry(ctx, tenantID, snap)
			if err != nil {
				return nil, err
			}
			m.mu.Lock()
			m.clients[key] = built
			m.mu.Unlock()
			return built, nil
		})
		if err != nil {
			return nil, err
		}
		entry = v.(*clientEntry)
	}

	if entry.limiter != nil && !entry.limiter.Allow() {
		return nil, status.Newf(status.CodeRateLimited,
			"tenant %s exceeded the configured model request budget", tenantID)
	}
	return entry.model, nil
}

// Invalidate drops the tenant's constructed clients and evicts the
// cached binding snapshot. Admin writes to the binding call this.
func (m *Manager) Invalidate(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	for key := range m.clients {
		if key.tenantID == tenantID {
			delete(m.clients, key)
		}
	}
	m.mu.Unlock()

	if m.cache == nil {
		return nil
	}
	return m.cache.Evict(ctx, cache.LLMKey(tenantID))
}

// loadBinding resolves the binding snapshot: permission cache first,
// then catalog under single-flight.
func (m *Manager) loadBinding(ctx context.Context, tenantID string) (*bindingSnapshot, error) {
	if m.cache != nil {
		if raw, ok := m.cache.Get(ctx, cache.LLMKey(tenantID)); ok {
			var snap bindingSnapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				return &snap, nil
			}
			log.Warnf("cached LLM binding for tenant %s is malformed, reloading", tenantID)
		}
	}

	v, err, _ := m.group.Do("binding/"+tenantID, func() (any, error) {
		return m.readBinding(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*bindingSnapshot), nil
}

// readBinding loads the binding and its provider model from the catalog
// and refreshes the cache.
func (m *Manager) readBinding(ctx context.Context, tenantID string) (*bindingSnapshot, error) {
	binding, err := m.store.GetBinding(ctx, tenantID)
	if err != nil {
		if catalog.IsNotFound(err) {
			return nil, status.Newf(status.CodeConfigMissing,
				"tenant %s has no LLM binding", tenantID)
		}
		return nil, status.Wrap(status.CodeStoreError, "load LLM binding failed", err)
	}

	providerModel, err := m.store.GetProviderModel(ctx, binding.LLMModelID)
	if err != nil {
		if catalog.IsNotFound(err) {
			return nil, status.Newf(status.CodeConfigMissing,
				"LLM model %s bound to tenant %s does not exist", binding.LLMModelID, tenantID)
		}
		return nil, status.Wrap(status.CodeStoreError, "load LLM provider model failed", err)
	}
	if !providerModel.Active {
		return nil, status.Newf(status.CodeConfigMissing,
			"LLM model %s bound to tenant %s is disabled", binding.LLMModelID, tenantID)
	}

	snap := &bindingSnapshot{
		LLMModelID:       binding.LLMModelID,
		Provider:         strings.ToLower(providerModel.Provider),
		ModelName:        providerModel.ModelName,
		APIKeyCiphertext: binding.APIKeyCiphertext,
		RateLimitRPM:     binding.RateLimitRPM,
	}
	if m.cache != nil {
		if raw, err := json.Marshal(snap); err == nil {
			m.cache.Set(ctx, cache.LLMKey(tenantID), raw)
		}
	}
	return snap, nil
}

// buildEntry decrypts the API key and constructs the provider client.
// The plaintext key exists only on this stack frame and inside the
// constructed client.
func (m *Manager) buildEntry(ctx context.Context, tenantID string, snap *bindingSnapshot) (*clientEntry, error) {
	builder, ok := providerBuilder(snap.Provider)
	if !ok {
		return nil, status.Newf(status.CodeProviderUnknown,
			"provider %q has no registered adapter", snap.Provider)
	}

	apiKey, err := m.cipher.Decrypt(snap.APIKeyCiphertext)
	if err != nil {
		// The cipher reports sentinel errors only, so wrapping cannot
		// leak key or ciphertext material.
		return nil, status.Wrap(status.CodeConfigDecryptFailure,
			fmt.Sprintf("decrypt API key for tenant %s failed", tenantID), err)
	}

	client, err := builder(ctx, snap.ModelName, apiKey)
	if err != nil {
		return nil, status.Wrap(status.CodeProviderUnknown,
			fmt.Sprintf("construct %s client failed", snap.Provider), err)
	}

	log.Infof("constructed %s client (model %s) for tenant %s", snap.Provider, snap.ModelName, tenantID)
	return &clientEntry{
		model:   client,
		limiter: newTenantLimiter(snap.RateLimitRPM),
	}, nil
}

// newTenantLimiter builds a limiter allowing rpm requests per minute
// with the full minute budget available as burst. Zero or negative rpm
// disables limiting.
func newTenantLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
}
