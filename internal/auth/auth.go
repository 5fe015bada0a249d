//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package auth verifies the bearer JWTs that front the chat surface.
// Tokens are signed by the platform gateway with an RS256 key pair;
// this service holds only the public half and never issues tokens.
package auth

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/myle1996kh/ITL-PGVector-sub000/status"
)

// Claims are the token claims the router consumes. TenantID scopes the
// token to exactly one tenant; Subject carries the platform user id.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against the gateway's public key.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses the PEM-encoded RS256 public key. The key comes
// from configuration, so a parse failure is a startup error.
func NewVerifier(publicKeyPEM string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return &Verifier{key: key}, nil
}

// Verify parses and validates token, returning its claims. All parse
// and signature failures surface as a single unauthorized error; the
// cause is preserved for logs but never for response bodies.
func (v *Verifier) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, status.Wrap(status.CodeUnauthorized, "invalid token", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, status.New(status.CodeUnauthorized, "invalid token")
	}
	if claims.TenantID == "" {
		return nil, status.New(status.CodeUnauthorized, "token has no tenant scope")
	}
	return claims, nil
}

// Authorize verifies token and checks that its tenant scope matches
// the tenant addressed by the request path.
func (v *Verifier) Authorize(token, tenantID string) (*Claims, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TenantID != tenantID {
		return nil, status.Newf(status.CodeTenantMismatch, "token is not scoped to tenant %s", tenantID)
	}
	return claims, nil
}

// BearerFromRequest extracts the bearer token from the Authorization
// header. It returns "" when the header is absent or not a bearer
// credential.
func BearerFromRequest(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if len(value) < len("bearer ") {
		return ""
	}
	if !strings.EqualFold(value[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}
