//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientBuilder_EmptyURL(t *testing.T) {
	_, err := DefaultClientBuilder()
	require.Error(t, err)
	require.Equal(t, "redis: url is empty", err.Error())
}

func TestDefaultClientBuilder_InvalidURL(t *testing.T) {
	_, err := DefaultClientBuilder(WithClientBuilderURL("http://not-redis"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis")
}

func TestDefaultClientBuilder_ConnectsToMiniredis(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := DefaultClientBuilder(WithClientBuilderURL("redis://" + srv.Addr()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := client.Get(context.Background(), "k").Result()
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestSetGetClientBuilder(t *testing.T) {
	oldBuilder := GetClientBuilder()
	defer func() { SetClientBuilder(oldBuilder) }()

	invoked := false
	SetClientBuilder(func(opts ...ClientBuilderOpt) (redis.UniversalClient, error) {
		invoked = true
		return nil, nil
	})
	_, err := GetClientBuilder()(WithClientBuilderURL("redis://localhost:6379"))
	require.NoError(t, err)
	require.True(t, invoked)
}

func TestRegisterAndGetRedisInstance(t *testing.T) {
	oldRegistry := redisRegistry
	redisRegistry = make(map[string][]ClientBuilderOpt)
	defer func() { redisRegistry = oldRegistry }()

	RegisterRedisInstance("cache", WithClientBuilderURL("redis://localhost:6379/1"))
	RegisterRedisInstance("cache", WithExtraOptions("x"))

	opts, ok := GetRedisInstance("cache")
	require.True(t, ok)

	cfg := &ClientBuilderOpts{}
	for _, opt := range opts {
		opt(cfg)
	}
	require.Equal(t, "redis://localhost:6379/1", cfg.URL)
	require.Equal(t, []any{"x"}, cfg.ExtraOptions)

	_, ok = GetRedisInstance("not-exist")
	require.False(t, ok)
}
