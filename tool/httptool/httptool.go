//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package httptool executes HTTP_GET and HTTP_POST tool specs from the
// catalog. A compiled tool is tenant-scoped but credential-free: the
// caller's bearer token is read from the request context on every call,
// so instances can be cached and shared safely.
package httptool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/myle1996kh/ITL-PGVector-sub000/catalog"
	"github.com/myle1996kh/ITL-PGVector-sub000/log"
	"github.com/myle1996kh/ITL-PGVector-sub000/tool"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of an upstream body is read.
	maxResponseBytes = 1 << 20

	// maxErrorDetailBytes bounds the upstream body carried inside a
	// tool-error result.
	maxErrorDetailBytes = 2048

	// defaultLogBodyPrefix is how many response bytes reach the debug
	// log. Bodies are never logged beyond this prefix.
	defaultLogBodyPrefix = 256
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Option configures a Tool.
type Option func(*config)

type config struct {
	httpClient    *http.Client
	timeout       time.Duration
	logBodyPrefix int
}

// WithHTTPClient sets the HTTP client used for outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) {
		cfg.httpClient = c
	}
}

// WithDefaultTimeout overrides the fallback timeout applied when the
// tool spec does not set one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithLogBodyPrefix overrides how many bytes of upstream response bodies
// are written to the debug log.
func WithLogBodyPrefix(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.logBodyPrefix = n
		}
	}
}

// Tool is a CallableTool over one HTTP_GET or HTTP_POST ToolSpec.
type Tool struct {
	spec          *catalog.ToolSpec
	declaration   *tool.Declaration
	client        *http.Client
	timeout       time.Duration
	logBodyPrefix int
}

// New compiles a tool spec into a callable HTTP tool. Arguments are
// assumed to be schema-validated before Call is reached.
func New(spec *catalog.ToolSpec, declaration *tool.Declaration, opts ...Option) *Tool {
	cfg := &config{
		httpClient:    &http.Client{},
		timeout:       defaultTimeout,
		logBodyPrefix: defaultLogBodyPrefix,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Tool{
		spec:          spec,
		declaration:   declaration,
		client:        cfg.httpClient,
		timeout:       spec.Timeout(cfg.timeout),
		logBodyPrefix: cfg.logBodyPrefix,
	}
}

// Declaration implements tool.Tool.
func (t *Tool) Declaration() *tool.Declaration {
	return t.declaration
}

// Call implements tool.CallableTool. Execution failures the model
// should see come back as {error, detail} values, never as Go errors.
func (t *Tool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	args := map[string]any{}
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &args); err != nil {
			return errorResult("invalid tool arguments", err.Error()), nil
		}
	}

	switch t.spec.Kind {
	case catalog.ToolKindHTTPGet:
		return t.get(ctx, args), nil
	case catalog.ToolKindHTTPPost:
		return t.post(ctx, args), nil
	default:
		return errorResult(fmt.Sprintf("tool kind %s is not an HTTP kind", t.spec.Kind), ""), nil
	}
}

func (t *Tool) get(ctx context.Context, args map[string]any) any {
	endpoint, err := expandEndpoint(t.spec.EndpointTemplate, args)
	if err != nil {
		return errorResult("endpoint expansion failed", err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errorResult("build request failed", err.Error())
	}
	req.Header.Set("Accept", "application/json")
	t.applyHeaders(ctx, req)
	return t.do(req)
}

func (t *Tool) post(ctx context.Context, args map[string]any) any {
	endpoint, err := expandEndpoint(t.spec.EndpointTemplate, args)
	if err != nil {
		return errorResult("endpoint expansion failed", err.Error())
	}

	body, err := t.buildBody(args)
	if err != nil {
		return errorResult("build request body failed", err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errorResult("build request failed", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	t.applyHeaders(ctx, req)
	return t.do(req)
}

// buildBody renders the spec's JSON body template against the validated
// arguments, or marshals the full argument object when no template is
// configured.
func (t *Tool) buildBody(args map[string]any) ([]byte, error) {
	if strings.TrimSpace(t.spec.BodyTemplate) == "" {
		return json.Marshal(args)
	}

	var missing []string
	rendered := placeholderPattern.ReplaceAllStringFunc(t.spec.BodyTemplate, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return jsonFragment(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing values for body placeholders: %s", strings.Join(missing, ", "))
	}
	if !json.Valid([]byte(rendered)) {
		return nil, errors.New("rendered body template is not valid JSON")
	}
	return []byte(rendered), nil
}

// applyHeaders overlays the spec's static headers and then forces the
// caller's bearer token. A spec can never override Authorization.
func (t *Tool) applyHeaders(ctx context.Context, req *http.Request) {
	for key, value := range t.spec.StaticHeaders {
		if strings.EqualFold(key, "Authorization") {
			log.Warnf("tool %s: static Authorization header ignored", t.spec.Name)
			continue
		}
		req.Header.Set(key, value)
	}
	if token, ok := tool.BearerFromContext(ctx); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (t *Tool) do(req *http.Request) any {
	resp, err := t.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return errorResult(
				fmt.Sprintf("tool request timed out after %s", t.timeout),
				"the upstream did not answer in time; the call may be retried",
			)
		}
		return errorResult("tool request failed", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errorResult("read response failed", err.Error())
	}

	log.Debugf("tool %s: %s %s -> %d (%d bytes) %s",
		t.spec.Name, req.Method, req.URL.Path, resp.StatusCode, len(body),
		truncate(string(body), t.logBodyPrefix))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResult(
			fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode),
			truncate(string(body), maxErrorDetailBytes),
		)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Non-JSON upstreams still produce a usable result.
		return string(body)
	}
	return decoded
}

// expandEndpoint substitutes {placeholder} segments with URL-encoded
// argument values. Every placeholder must resolve.
func expandEndpoint(template string, args map[string]any) (string, error) {
	var missing []string
	expanded := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return url.QueryEscape(argString(v))
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing values for endpoint placeholders: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// argString renders an argument value for URL substitution.
func argString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(raw)
	}
}

// jsonFragment renders an argument value for substitution inside a JSON
// body template. Strings are escaped but not quoted: the template
// supplies its own quoting.
func jsonFragment(v any) string {
	switch value := v.(type) {
	case string:
		quoted, err := json.Marshal(value)
		if err != nil {
			return value
		}
		return string(quoted[1 : len(quoted)-1])
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case nil:
		return "null"
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return "null"
		}
		return string(raw)
	}
}

func errorResult(message, detail string) map[string]any {
	result := map[string]any{"error": message}
	if detail != "" {
		result["detail"] = detail
	}
	return result
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
