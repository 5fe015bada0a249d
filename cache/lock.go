//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/status"
)

const (
	defaultLeaseTTL       = 90 * time.Second
	defaultAcquireTimeout = 2 * time.Second
	defaultRetryInterval  = 50 * time.Millisecond
)

// releaseScript deletes the lock only while we still hold it, so a lease
// that expired and was re-acquired by another request is never released
// from here.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// SessionLock serializes request handling within a session. Requests for
// the same session id must not interleave or message ordering and history
// coherence break; a second concurrent request fails with SessionBusy
// after the acquisition timeout.
type SessionLock struct {
	client         redis.UniversalClient
	leaseTTL       time.Duration
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

// LockOption configures NewSessionLock.
type LockOption func(*SessionLock)

// WithAcquireTimeout bounds how long Acquire waits for a held lock.
func WithAcquireTimeout(d time.Duration) LockOption {
	return func(l *SessionLock) {
		if d > 0 {
			l.acquireTimeout = d
		}
	}
}

// WithLeaseTTL bounds how long a crashed holder keeps the session locked.
// The lease must exceed the per-request deadline.
func WithLeaseTTL(d time.Duration) LockOption {
	return func(l *SessionLock) {
		if d > 0 {
			l.leaseTTL = d
		}
	}
}

// NewSessionLock creates a SessionLock over an existing client.
func NewSessionLock(client redis.UniversalClient, opts ...LockOption) *SessionLock {
	l := &SessionLock{
		client:         client,
		leaseTTL:       defaultLeaseTTL,
		acquireTimeout: defaultAcquireTimeout,
		retryInterval:  defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("lock:session:%s", sessionID)
}

// Acquire takes the session lock, polling until the acquisition timeout.
// On success it returns a release function the caller must invoke when the
// request ends, including on cancellation.
func (l *SessionLock) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := lockKey(sessionID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.acquireTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.leaseTTL).Result()
		if err != nil {
			return nil, status.Wrap(status.CodeStoreError, "acquire session lock failed", err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, status.Newf(status.CodeSessionBusy,
				"session %s is processing another request", sessionID)
		}
		select {
		case <-ctx.Done():
			return nil, status.Wrap(status.CodeSessionBusy, "session lock wait cancelled", ctx.Err())
		case <-time.After(l.retryInterval):
		}
	}
}

// release runs detached from the request context so a cancelled request
// still frees the session.
func (l *SessionLock) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		// The lease TTL reclaims the lock; the failed release only delays
		// the next request for this session.
		log.Warnf("release session lock %s failed: %v", key, err)
	}
}
