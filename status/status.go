//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package status defines the error taxonomy shared across the router.
// Every failure that can cross a package boundary is categorized by a
// Code; the HTTP layer maps codes to response statuses without string
// matching.
package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Code categorizes an error for surfacing and monitoring.
type Code string

// Error codes. The wire value is the snake_case string: it appears in
// response bodies as `code` and must stay stable.
const (
	// CodeTenantUnknown means the tenant id does not exist.
	CodeTenantUnknown Code = "tenant_unknown"
	// CodeTenantInactive means the tenant exists but is deactivated.
	CodeTenantInactive Code = "tenant_inactive"
	// CodeUnauthorized means the request carried no usable credential.
	CodeUnauthorized Code = "unauthorized"
	// CodeTenantMismatch means the session belongs to another tenant.
	CodeTenantMismatch Code = "tenant_mismatch"
	// CodeSessionBusy means another request holds the session lock.
	CodeSessionBusy Code = "session_busy"
	// CodeSessionNotFound means the session id does not exist.
	CodeSessionNotFound Code = "session_not_found"
	// CodeConfigMissing means a required tenant binding is absent.
	CodeConfigMissing Code = "config_missing"
	// CodeConfigDecryptFailure means the stored API key failed to decrypt.
	CodeConfigDecryptFailure Code = "config_decrypt_failure"
	// CodeProviderUnknown means the provider name has no adapter.
	CodeProviderUnknown Code = "provider_unknown"
	// CodePermissionDenied means a grant required for the operation is
	// absent or disabled.
	CodePermissionDenied Code = "permission_denied"
	// CodeSchemaInvalid means tool arguments failed schema validation.
	CodeSchemaInvalid Code = "schema_invalid"
	// CodeToolTransportError means the outbound tool call never
	// completed at the transport level.
	CodeToolTransportError Code = "tool_transport_error"
	// CodeToolHTTPError means the tool endpoint returned a non-2xx.
	CodeToolHTTPError Code = "tool_http_error"
	// CodeToolTimeout means the tool call exceeded its deadline.
	CodeToolTimeout Code = "tool_timeout"
	// CodeUnknownTool means the model called a tool that is not loaded.
	CodeUnknownTool Code = "unknown_tool"
	// CodeNotImplemented means the tool kind has no handler yet.
	CodeNotImplemented Code = "not_implemented"
	// CodeLLMTransportError means the provider call failed in transit.
	CodeLLMTransportError Code = "llm_transport_error"
	// CodeLLMAuthError means the provider rejected the tenant's API key.
	CodeLLMAuthError Code = "llm_auth_error"
	// CodeRateLimited means the tenant exceeded its request budget.
	CodeRateLimited Code = "rate_limited"
	// CodeStoreError means a database operation failed.
	CodeStoreError Code = "store_error"
	// CodeInvalidArgument means the request body failed validation.
	CodeInvalidArgument Code = "invalid_argument"
	// CodeInternal is the fallback for uncategorized failures.
	CodeInternal Code = "internal"
)

// httpStatusByCode maps each code to the response status the chat
// surface emits. Codes missing here surface as 500.
var httpStatusByCode = map[Code]int{
	CodeTenantUnknown:        http.StatusNotFound,
	CodeTenantInactive:       http.StatusForbidden,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeTenantMismatch:       http.StatusForbidden,
	CodeSessionBusy:          http.StatusConflict,
	CodeSessionNotFound:      http.StatusNotFound,
	CodeConfigMissing:        http.StatusInternalServerError,
	CodeConfigDecryptFailure: http.StatusInternalServerError,
	CodeProviderUnknown:      http.StatusInternalServerError,
	CodePermissionDenied:     http.StatusForbidden,
	CodeLLMTransportError:    http.StatusBadGateway,
	CodeLLMAuthError:         http.StatusUnauthorized,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeStoreError:           http.StatusInternalServerError,
	CodeInvalidArgument:      http.StatusBadRequest,
	CodeInternal:             http.StatusInternalServerError,
}

// Error is a categorized error. It wraps an optional cause so callers
// can use errors.Is/errors.As through it.
type Error struct {
	// Code categorizes the failure.
	Code Code

	// Message is safe to return to the caller. It must not contain
	// credentials or raw upstream bodies.
	Message string

	// Err is the underlying cause, kept for logs only.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status the error surfaces as.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that carries err as its cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, walking the wrap chain. Errors
// outside the taxonomy report CodeInternal.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// HTTPStatusOf maps err to an HTTP status, 500 for unknown errors.
func HTTPStatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
