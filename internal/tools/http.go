package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// HTTPConfig bounds the http.request tool.
type HTTPConfig struct {
	Client          *http.Client
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// NewHTTPTool creates the http.request tool. A status of 400 or above fails
// the call when failOnStatus is set, so onError can route it.
func NewHTTPTool(cfg HTTPConfig, validator SchemaValidator) Tool {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &httpTool{
		base: base{
			name: "http.request",
			schema: Schema{
				Description: "Send an HTTP request and return status, headers and the decoded body",
				Args: obj(map[string]any{
					"method":       map[string]any{"type": "string"},
					"url":          map[string]any{"type": "string", "minLength": 1},
					"headers":      map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
					"body":         map[string]any{},
					"timeout":      map[string]any{"type": "string"},
					"failOnStatus": map[string]any{"type": "boolean"},
				}, "url"),
				Fields: isolation.Fields{Args: []string{"method", "url", "headers", "body", "timeout", "failOnStatus"}},
			},
			validator: validator,
		},
		cfg: cfg,
	}
}

type httpTool struct {
	base
	cfg HTTPConfig
}

type httpArgs struct {
	Method       string            `mapstructure:"method"`
	URL          string            `mapstructure:"url"`
	Headers      map[string]string `mapstructure:"headers"`
	Body         any               `mapstructure:"body"`
	Timeout      string            `mapstructure:"timeout"`
	FailOnStatus bool              `mapstructure:"failOnStatus"`
}

func (t *httpTool) Validate(args map[string]any) error {
	if err := t.base.Validate(args); err != nil {
		return err
	}
	raw, _ := args["url"].(string)
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid url %q", raw).
			WithDetails(map[string]any{"tool": t.name})
	}
	return nil
}

func (t *httpTool) Execute(ctx context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	var args httpArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}
	method := strings.ToUpper(args.Method)
	if method == "" {
		method = http.MethodGet
	}
	timeout := t.cfg.DefaultTimeout
	if args.Timeout != "" {
		d, err := time.ParseDuration(args.Timeout)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "http.request: timeout %q: %v", args.Timeout, err)
		}
		timeout = d
	}

	var body io.Reader
	if args.Body != nil {
		data, err := json.Marshal(args.Body)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "http.request: encode body").WithCause(err)
		}
		body = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, args.URL, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.request: build request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.request: read response").WithCause(err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	out := map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       decodeBody(resp.Header.Get("Content-Type"), raw),
		"durationMs": time.Since(start).Milliseconds(),
	}
	if args.FailOnStatus && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: %s %s returned %d", method, args.URL, resp.StatusCode).
			WithDetails(out)
	}
	return &schema.ToolResult{Data: out}, nil
}

// decodeBody returns JSON bodies decoded and anything else as a string.
func decodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}
