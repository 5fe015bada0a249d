//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// chatd is the tenant chat daemon. It wires the catalog store, session
// store, caches and the supervisor pipeline behind the HTTP chat surface
// and runs until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/myle1996kh/ITL-PGVector-sub000/cache"
	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/executor"
	"github.com/myle1996kh/ITL-PGVector-sub000/internal/auth"
	"github.com/myle1996kh/ITL-PGVector-sub000/internal/cipher"
	"github.com/myle1996kh/ITL-PGVector-sub000/internal/config"
	"github.com/myle1996kh/ITL-PGVector-sub000/knowledge"
	"github.com/myle1996kh/ITL-PGVector-sub000/llm"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/memory"
	"github.com/myle1996kh/ITL-PGVector-sub000/orchestrator"
	"github.com/myle1996kh/ITL-PGVector-sub000/server/chat"
	sessionpg "github.com/myle1996kh/ITL-PGVector-sub000/session/postgres"
	storage "github.com/myle1996kh/ITL-PGVector-sub000/storage/postgres"
	redisstorage "github.com/myle1996kh/ITL-PGVector-sub000/storage/redis"
	"github.com/myle1996kh/ITL-PGVector-sub000/supervisor"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool/httptool"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool/registry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Errorf("load config: %v", err)
		return 1
	}
	log.SetLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := storage.GetClientBuilder()(ctx, storage.WithClientConnString(cfg.DatabaseURL))
	if err != nil {
		log.Errorf("open postgres: %v", err)
		return 1
	}
	defer pg.Close()
	// sql.Open is lazy, so probe before migrating.
	if err := pg.Ping(ctx); err != nil {
		log.Errorf("postgres unreachable: %v", err)
		return 1
	}

	redisClient, err := redisstorage.GetClientBuilder()(redisstorage.WithClientBuilderURL(cfg.CacheURL))
	if err != nil {
		log.Errorf("open redis: %v", err)
		return 1
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Errorf("redis unreachable: %v", err)
		return 1
	}

	if err := catalog.InitSchema(ctx, pg); err != nil {
		log.Errorf("migrate catalog schema: %v", err)
		return 2
	}
	if err := sessionpg.InitSchema(ctx, pg); err != nil {
		log.Errorf("migrate session schema: %v", err)
		return 2
	}

	cph, err := cipher.New(cfg.EncryptionKey)
	if err != nil {
		log.Errorf("init cipher: %v", err)
		return 1
	}

	store, err := catalog.NewPostgresStore(ctx, catalog.WithClient(pg))
	if err != nil {
		log.Errorf("init catalog store: %v", err)
		return 1
	}

	permCache := cache.NewPermissionCache(redisClient, cache.WithTTL(cfg.CacheTTL))
	locks := cache.NewSessionLock(redisClient, cache.WithAcquireTimeout(cfg.SessionLockTimeout))

	llmManager := llm.NewManager(store, cph, llm.WithPermissionCache(permCache))

	registryOpts := []registry.Option{
		registry.WithPermissionCache(permCache),
		registry.WithToolLimit(cfg.ToolPriorityLimit),
		registry.WithHTTPOptions(httptool.WithDefaultTimeout(cfg.ToolTimeout)),
	}
	if cfg.KBURL != "" {
		registryOpts = append(registryOpts, registry.WithRetriever(knowledge.NewClient(cfg.KBURL)))
	}
	toolRegistry := registry.NewRegistry(store, registryOpts...)

	// The service shares pg, whose Close is already deferred.
	sessions, err := sessionpg.NewService(ctx, sessionpg.WithClient(pg))
	if err != nil {
		log.Errorf("init session service: %v", err)
		return 1
	}

	mem := memory.New(sessions, memory.WithMaxMessages(cfg.MaxHistoryMessages))

	deps := executor.Deps{
		Clients:   llmManager,
		Tools:     toolRegistry,
		MaxRounds: cfg.MaxRounds,
	}
	router := supervisor.NewRouter(store, mem, deps,
		supervisor.WithPermissionCache(permCache),
		supervisor.WithMaxHistory(cfg.MaxHistoryMessages))

	orchOpts := []orchestrator.Option{
		orchestrator.WithSessionLock(locks),
		orchestrator.WithRequestTimeout(cfg.RequestTimeout),
	}
	if cfg.DisableAuth {
		orchOpts = append(orchOpts, orchestrator.WithTestAuth(cfg.TestBearerToken))
	}
	orch := orchestrator.New(store, sessions, router, orchOpts...)

	serverOpts := []chat.Option{
		chat.WithHealthChecks(pg, permCache),
		chat.WithReloadHooks(
			permCache.EvictTenant,
			llmManager.Invalidate,
			func(_ context.Context, tenantID string) error {
				toolRegistry.Invalidate(tenantID)
				return nil
			},
		),
	}
	if cfg.DisableAuth {
		log.Warnf("authentication disabled, test chat surface is exposed")
		serverOpts = append(serverOpts, chat.WithAuthDisabled())
	} else {
		verifier, err := auth.NewVerifier(cfg.JWTPublicKey)
		if err != nil {
			log.Errorf("init token verifier: %v", err)
			return 1
		}
		serverOpts = append(serverOpts, chat.WithVerifier(verifier))
	}
	srv := chat.New(orch, serverOpts...)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("chatd listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Infof("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Errorf("http server: %v", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown: %v", err)
		return 1
	}
	log.Infof("chatd stopped")
	return 0
}
