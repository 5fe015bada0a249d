//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the service reads at startup.
type Config struct {
	// DatabaseURL is the postgres connection string for catalog, sessions
	// and messages.
	DatabaseURL string
	// CacheURL is the redis URL for the permission cache and session locks.
	CacheURL string
	// EncryptionKey is the AES-256 key material protecting provider API
	// keys at rest (raw, hex or base64). Never logged.
	EncryptionKey string
	// JWTPublicKey is the PEM-encoded RS256 public key for bearer
	// verification. Required unless DisableAuth is set.
	JWTPublicKey string
	// DisableAuth skips JWT verification and mounts the /test/chat route.
	DisableAuth bool
	// TestBearerToken is forwarded to tools when DisableAuth is set and the
	// request carries no bearer of its own. Never logged.
	TestBearerToken string

	// KBURL is the knowledge-base backend for RAG tools.
	KBURL string

	MaxRounds          int
	MaxHistoryMessages int
	ToolPriorityLimit  int

	ListenAddr string
	LogLevel   string

	RequestTimeout     time.Duration
	ToolTimeout        time.Duration
	SessionLockTimeout time.Duration
	CacheTTL           time.Duration
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		MaxRounds:          4,
		MaxHistoryMessages: 10,
		ToolPriorityLimit:  5,
		ListenAddr:         ":8080",
		LogLevel:           "info",
		RequestTimeout:     60 * time.Second,
		ToolTimeout:        30 * time.Second,
		SessionLockTimeout: 2 * time.Second,
		CacheTTL:           3600 * time.Second,
	}
}

// Load reads the environment over Default and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.CacheURL = os.Getenv("CACHE_URL")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	cfg.JWTPublicKey = os.Getenv("JWT_PUBLIC_KEY")
	cfg.TestBearerToken = os.Getenv("TEST_BEARER_TOKEN")
	cfg.KBURL = os.Getenv("KB_URL")

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.DisableAuth = envBool("DISABLE_AUTH")

	var err error
	if cfg.MaxRounds, err = envInt("MAX_ROUNDS", cfg.MaxRounds); err != nil {
		return nil, err
	}
	if cfg.MaxHistoryMessages, err = envInt("MAX_HISTORY_MESSAGES", cfg.MaxHistoryMessages); err != nil {
		return nil, err
	}
	if cfg.ToolPriorityLimit, err = envInt("TOOL_PRIORITY_LIMIT", cfg.ToolPriorityLimit); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.ToolTimeout, err = envDuration("TOOL_TIMEOUT", cfg.ToolTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionLockTimeout, err = envDuration("SESSION_LOCK_TIMEOUT", cfg.SessionLockTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants Load cannot default away.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.CacheURL == "" {
		missing = append(missing, "CACHE_URL")
	}
	if c.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if !c.DisableAuth && c.JWTPublicKey == "" {
		missing = append(missing, "JWT_PUBLIC_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment: %v", missing)
	}
	if c.MaxRounds < 1 {
		return errors.New("config: MAX_ROUNDS must be at least 1")
	}
	if c.ToolPriorityLimit < 1 {
		return errors.New("config: TOOL_PRIORITY_LIMIT must be at least 1")
	}
	if c.MaxHistoryMessages < 0 {
		return errors.New("config: MAX_HISTORY_MESSAGES must not be negative")
	}
	return nil
}

func envBool(name string) bool {
	v := os.Getenv(name)
	return v == "true" || v == "1"
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", name, v)
	}
	return n, nil
}

// envDuration accepts plain seconds ("60") or a Go duration ("60s", "1m").
func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be seconds or a duration, got %q", name, v)
	}
	return d, nil
}
