//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package cache provides the tenant-scoped permission cache and the
// per-session advisory lock, both backed by Redis.
//
// The cache is never the source of truth: every read path must produce
// correct results from the store when the cache is cold or unreachable, so
// all failures here degrade to a miss and a log line instead of an error.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/myle1996kh/ITL-PGVector-sub000/log"
)

const defaultTTL = 3600 * time.Second

// LLMKey is the cache key for a tenant's LLM binding snapshot.
func LLMKey(tenantID string) string {
	return fmt.Sprintf("%s:llm", tenantID)
}

// ToolKey is the cache key for one compiled tool permission snapshot.
func ToolKey(tenantID, toolID string) string {
	return fmt.Sprintf("%s:tool:%s", tenantID, toolID)
}

// AgentsKey is the cache key for a tenant's authorized agent list.
func AgentsKey(tenantID string) string {
	return fmt.Sprintf("%s:agents", tenantID)
}

// PermissionCache caches tenant permission and configuration snapshots
// under namespaced keys with a bounded TTL.
type PermissionCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Option configures NewPermissionCache.
type Option func(*PermissionCache)

// WithTTL overrides the default 3600 s entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *PermissionCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewPermissionCache creates a PermissionCache over an existing client.
func NewPermissionCache(client redis.UniversalClient, opts ...Option) *PermissionCache {
	c := &PermissionCache{
		client: client,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value and whether it was present. Transport
// failures degrade to a miss.
func (c *PermissionCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("permission cache get %s degraded: %v", key, err)
		}
		return nil, false
	}
	return val, true
}

// Set stores a value under the cache TTL. Failures are logged, never
// returned: a write miss only costs a future store read.
func (c *PermissionCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		log.Warnf("permission cache set %s degraded: %v", key, err)
	}
}

// Evict removes the given keys synchronously. The error is returned so
// admin surfaces can report it, but callers proceed without cache either
// way.
func (c *PermissionCache) Evict(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warnf("permission cache eviction degraded: %v", err)
		return fmt.Errorf("evict cache keys failed: %w", err)
	}
	return nil
}

// EvictTenant removes every cache entry for the tenant: the llm and agents
// keys plus all {tenant}:tool:* entries.
func (c *PermissionCache) EvictTenant(ctx context.Context, tenantID string) error {
	keys := []string{LLMKey(tenantID), AgentsKey(tenantID)}

	pattern := ToolKey(tenantID, "*")
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warnf("permission cache scan %s degraded: %v", pattern, err)
		return fmt.Errorf("scan tenant cache keys failed: %w", err)
	}
	return c.Evict(ctx, keys...)
}

// Ping reports cache reachability for health checks.
func (c *PermissionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
