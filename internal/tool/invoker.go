package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/amoylab/unla-edge/internal/breaker"
	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/common/errorx"
	"github.com/amoylab/unla-edge/internal/template"
	"github.com/amoylab/unla-edge/pkg/mcp"
	"github.com/amoylab/unla-edge/pkg/metrics"
	"github.com/amoylab/unla-edge/pkg/trace"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize bounds how much of a downstream body is read
const maxResponseSize = 10 << 20

// Invoker executes config-defined HTTP tools against the downstream API.
// Every call goes through the breaker of its target host.
type Invoker struct {
	logger   *zap.Logger
	tools    map[string]*config.ToolConfig
	schemas  []mcp.ToolSchema
	client   *http.Client
	breakers *breaker.Registry
	pacer    *rate.Limiter
	renderer *template.Renderer
	metrics  *metrics.Metrics
	tracer   *trace.Builder
	env      func(string) string
}

type Option func(*Invoker)

// WithHTTPClient replaces the instrumented default client
func WithHTTPClient(c *http.Client) Option {
	return func(i *Invoker) { i.client = c }
}

// WithEnv replaces os.Getenv for the env template function
func WithEnv(env func(string) string) Option {
	return func(i *Invoker) { i.env = env }
}

func NewInvoker(logger *zap.Logger, cfg config.DownstreamConfig, breakers *breaker.Registry, m *metrics.Metrics, opts ...Option) (*Invoker, error) {
	inv := &Invoker{
		logger: logger.Named("tool"),
		tools:  make(map[string]*config.ToolConfig, len(cfg.Tools)),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breakers: breakers,
		renderer: template.NewRenderer(),
		metrics:  m,
		tracer:   trace.Tracer(cnst.TraceTool),
		env:      os.Getenv,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		inv.pacer = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		opt(inv)
	}

	for idx := range cfg.Tools {
		tool := cfg.Tools[idx]
		if _, dup := inv.tools[tool.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", tool.Name)
		}
		if tool.Method == "" {
			tool.Method = http.MethodGet
		}
		tool.Method = strings.ToUpper(tool.Method)
		for _, tmpl := range append([]string{tool.Endpoint, tool.RequestBody}, values(tool.Headers)...) {
			if err := inv.renderer.Parse(tmpl); err != nil {
				return nil, fmt.Errorf("tool %q: invalid template: %w", tool.Name, err)
			}
		}
		schema, err := inputSchema(&tool)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", tool.Name, err)
		}
		inv.tools[tool.Name] = &tool
		inv.schemas = append(inv.schemas, mcp.ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	sort.Slice(inv.schemas, func(i, j int) bool { return inv.schemas[i].Name < inv.schemas[j].Name })
	return inv, nil
}

// List returns the tool schemas ordered by name
func (i *Invoker) List() []mcp.ToolSchema {
	out := make([]mcp.ToolSchema, len(i.schemas))
	copy(out, i.schemas)
	return out
}

// Call runs the named tool. Caller mistakes (unknown tool, missing
// arguments) are InvalidParamsError. A 4xx from downstream is reported as
// an error result; 5xx and transport failures become ToolError and count
// against the breaker, which fails fast with CircuitOpenError while open.
func (i *Invoker) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	tool, ok := i.tools[name]
	if !ok {
		return nil, &errorx.InvalidParamsError{Reason: fmt.Sprintf("unknown tool %q", name)}
	}
	args, err := bindArgs(tool, args)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	i.metrics.ToolExecStart(name)
	scope := i.tracer.Start(ctx, cnst.SpanHTTPToolExecute, oteltrace.WithSpanKind(oteltrace.SpanKindClient)).
		WithAttrs(attribute.String(cnst.AttrMCPTool, name))
	defer scope.End()
	ctx = scope.Ctx

	result, err := i.call(ctx, tool, args)
	status := "ok"
	switch {
	case err == nil:
		if result.IsError {
			status = "rejected"
		}
	case isCircuitOpen(err):
		status = "circuit_open"
		scope.Fail(err)
	default:
		status = "error"
		scope.Fail(err)
		i.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
	}
	i.metrics.ToolExecDone(name, status, start)
	return result, err
}

func (i *Invoker) call(ctx context.Context, tool *config.ToolConfig, args map[string]any) (*mcp.CallToolResult, error) {
	if i.pacer != nil {
		if err := i.pacer.Wait(ctx); err != nil {
			return nil, &errorx.ToolError{Tool: tool.Name, Err: err}
		}
	}

	tmplCtx := template.NewContext()
	tmplCtx.Env = i.env
	for k, v := range args {
		tmplCtx.Args[k] = v
	}
	req, err := i.prepareRequest(ctx, tool, tmplCtx, args)
	if err != nil {
		return nil, &errorx.ToolError{Tool: tool.Name, Err: err}
	}
	target := req.URL.Host
	oteltrace.SpanFromContext(ctx).SetAttributes(attribute.String(cnst.AttrDownstreamTarget, target))

	result, err := breaker.Do(ctx, i.breakers.Get(target), func(ctx context.Context) (*mcp.CallToolResult, error) {
		return i.do(req.WithContext(ctx), tool)
	})
	switch {
	case err == nil:
		return result, nil
	case errorx.IsExpected(err):
		return mcp.NewTextResult("Error: "+err.Error(), true), nil
	case isCircuitOpen(err):
		return nil, err
	default:
		return nil, &errorx.ToolError{Tool: tool.Name, Err: err}
	}
}

func (i *Invoker) do(req *http.Request, tool *config.ToolConfig) (*mcp.CallToolResult, error) {
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	oteltrace.SpanFromContext(req.Context()).SetAttributes(attribute.Int(cnst.AttrHTTPStatusCode, resp.StatusCode))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("downstream returned %d: %s", resp.StatusCode, snippet(body))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, errorx.Expected(fmt.Errorf("downstream returned %d: %s", resp.StatusCode, snippet(body)))
	}
	return mcp.NewTextResult(extract(body, tool.ResponsePath), false), nil
}

// prepareRequest renders the endpoint, body and headers and places each
// argument according to its position
func (i *Invoker) prepareRequest(ctx context.Context, tool *config.ToolConfig, tmplCtx *template.Context, args map[string]any) (*http.Request, error) {
	endpoint, err := i.renderer.Render(tool.Endpoint, tmplCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render endpoint template: %w", err)
	}

	bodyArgs := make(map[string]any)
	query := url.Values{}
	headers := make(map[string]string)
	for _, arg := range tool.Args {
		v, ok := args[arg.Name]
		if !ok {
			continue
		}
		switch strings.ToLower(arg.Position) {
		case "path":
			endpoint = strings.ReplaceAll(endpoint, "{"+arg.Name+"}", url.PathEscape(fmt.Sprint(v)))
		case "query":
			query.Add(arg.Name, fmt.Sprint(v))
		case "header":
			headers[arg.Name] = fmt.Sprint(v)
		default:
			bodyArgs[arg.Name] = v
		}
	}

	var body io.Reader
	switch {
	case tool.RequestBody != "":
		rendered, err := i.renderer.Render(tool.RequestBody, tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render request body template: %w", err)
		}
		body = strings.NewReader(rendered)
	case len(bodyArgs) > 0 && tool.Method != http.MethodGet:
		raw, err := json.Marshal(bodyArgs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, tool.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range tool.Headers {
		rendered, err := i.renderer.Render(v, tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header template: %w", err)
		}
		req.Header.Set(k, rendered)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// bindArgs applies defaults and checks required arguments
func bindArgs(tool *config.ToolConfig, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	var missing []string
	for _, arg := range tool.Args {
		if _, ok := out[arg.Name]; ok {
			continue
		}
		if arg.Default != "" {
			out[arg.Name] = arg.Default
			continue
		}
		if arg.Required {
			missing = append(missing, arg.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &errorx.InvalidParamsError{Reason: "missing required arguments: " + strings.Join(missing, ", ")}
	}
	return out, nil
}

func inputSchema(tool *config.ToolConfig) (json.RawMessage, error) {
	if tool.InputSchema != nil {
		return json.Marshal(tool.InputSchema)
	}
	props := make(map[string]any, len(tool.Args))
	required := make([]string, 0)
	for _, arg := range tool.Args {
		typ := arg.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if arg.Description != "" {
			prop["description"] = arg.Description
		}
		props[arg.Name] = prop
		if arg.Required {
			required = append(required, arg.Name)
		}
	}
	return json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
}

// extract applies a gjson path to JSON bodies; other bodies pass through
func extract(body []byte, path string) string {
	if path == "" || !gjson.ValidBytes(body) {
		return string(body)
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return ""
	}
	if res.IsObject() || res.IsArray() {
		return res.Raw
	}
	return res.String()
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func isCircuitOpen(err error) bool {
	var openErr *errorx.CircuitOpenError
	return errors.As(err, &openErr)
}

func values(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
