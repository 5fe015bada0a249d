//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package tool

import "context"

// bearerKey is the context key type for the caller's bearer token.
// The token travels only through the request context so compiled tools
// can be cached and reused across callers without retaining credentials.
type bearerKey struct{}

// tenantKey is the context key type for the tenant ID of the request.
type tenantKey struct{}

// callIDKey is the context key type for the model tool call ID.
type callIDKey struct{}

// ContextWithBearer returns a context carrying the caller's bearer token.
func ContextWithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

// BearerFromContext retrieves the caller's bearer token from context.
// Returns the token and true if present, empty string and false otherwise.
func BearerFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey{}).(string)
	return token, ok
}

// ContextWithTenant returns a context carrying the request tenant ID.
func ContextWithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext retrieves the request tenant ID from context.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(string)
	return tenantID, ok
}

// ContextWithCallID returns a context carrying the model tool call ID,
// so tool implementations can correlate their logs with the call.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey{}, callID)
}

// CallIDFromContext retrieves the model tool call ID from context.
func CallIDFromContext(ctx context.Context) (string, bool) {
	callID, ok := ctx.Value(callIDKey{}).(string)
	return callID, ok
}
