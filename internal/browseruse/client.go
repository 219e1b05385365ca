// Package browseruse is the gateway to the Browser Use task API. It performs
// exactly one HTTP exchange per call and never retries.
package browseruse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"agentstudio/internal/config"
	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/httpclient"
	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
	"agentstudio/internal/tasktemplate"
)

// Client talks to the remote automation API.
type Client struct {
	baseURL  string
	apiKey   string
	llmModel string
	maxBody  int64

	http    *http.Client
	catalog *tasktemplate.Catalog
	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default breaker-guarded client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(cl *Client) { cl.logger = logging.OrNop(logger) }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithTracer wraps every request in a span.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(cl *Client) { cl.tracer = tp }
}

// WithCatalog swaps the task template catalogue.
func WithCatalog(c *tasktemplate.Catalog) Option {
	return func(cl *Client) {
		if c != nil {
			cl.catalog = c
		}
	}
}

// NewClient builds a gateway from configuration. A missing API key is
// accepted here and reported by each call instead.
func NewClient(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		llmModel: cfg.LLMModel,
		maxBody:  cfg.MaxResponseBytes,
		catalog:  tasktemplate.Builtin(),
		logger:   logging.NewComponentLogger("browser-use"),
		tracer:   observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.NewGuarded(httpclient.GuardConfig{Name: "browser-use", Timeout: cfg.RequestTimeout}, c.logger)
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultBaseURL
	}
	return c
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// BuildRunTaskRequest renders the run-task payload for req without sending it.
func (c *Client) BuildRunTaskRequest(req StartRequest) (RunTaskRequest, error) {
	company := strings.TrimSpace(req.CompanyName)
	if company == "" {
		return RunTaskRequest{}, agenterrors.Validation("company name is required")
	}

	tpl := c.catalog.Get(req.TaskType)
	schema, err := tasktemplate.StructuredOutputJSON(tpl)
	if err != nil {
		return RunTaskRequest{}, err
	}

	model := firstNonEmpty(c.llmModel, tpl.LLMModel, DefaultLLMModel)
	maxSteps := tpl.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxAgentSteps
	}

	return RunTaskRequest{
		Task:                  tasktemplate.BuildPrompt(tpl, company, req.Website),
		AllowedDomains:        tpl.AllowedDomains,
		SaveBrowserData:       false,
		LLMModel:              model,
		UseAdblock:            true,
		UseProxy:              true,
		ProxyCountryCode:      DefaultProxyCountry,
		HighlightElements:     true,
		BrowserViewportWidth:  DefaultViewportWidth,
		BrowserViewportHeight: DefaultViewportHeight,
		MaxAgentSteps:         maxSteps,
		EnablePublicShare:     true,
		StructuredOutputJSON:  schema,
	}, nil
}

// StartTask creates a remote task and returns its id.
func (c *Client) StartTask(ctx context.Context, req StartRequest) (StartResult, error) {
	if !c.Configured() {
		return StartResult{}, agenterrors.NewMissingCredential(config.APIKeyEnv)
	}
	payload, err := c.BuildRunTaskRequest(req)
	if err != nil {
		return StartResult{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return StartResult{}, fmt.Errorf("encode run-task request: %w", err)
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanStartTask,
		attribute.String(observability.AttrTaskType, c.catalog.Get(req.TaskType).ID))
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	c.logger.Info("Starting %s task for %q (max steps %d, model %s)",
		c.catalog.Get(req.TaskType).ID, strings.TrimSpace(req.CompanyName), payload.MaxAgentSteps, payload.LLMModel)

	resp, err := c.do(ctx, "start_task", http.MethodPost, "/run-task", bytes.NewReader(body))
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{Err: err}
		return StartResult{}, spanErr
	}
	data, err := httpclient.ReadBody(resp, c.maxBody)
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{StatusCode: resp.StatusCode, Err: err}
		return StartResult{}, spanErr
	}
	if !isSuccess(resp.StatusCode) {
		spanErr = &agenterrors.RemoteRejectedError{StatusCode: resp.StatusCode, Body: string(data)}
		c.logger.Warn("Run-task rejected with HTTP %d", resp.StatusCode)
		return StartResult{}, spanErr
	}

	var result StartResult
	if err := json.Unmarshal(data, &result); err != nil {
		spanErr = &agenterrors.ParseFailureError{Err: err}
		return StartResult{}, spanErr
	}
	if strings.TrimSpace(result.ID) == "" {
		spanErr = &agenterrors.ParseFailureError{Err: fmt.Errorf("run-task response has no id")}
		return StartResult{}, spanErr
	}
	c.logger.Info("Task %s created", result.ID)
	return result, nil
}

// FetchStatus reads the full remote state of taskID.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	if !c.Configured() {
		return nil, agenterrors.NewMissingCredential(config.APIKeyEnv)
	}
	ctx = observability.ContextWithTaskID(ctx, taskID)
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanFetchStatus)
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	resp, err := c.do(ctx, "fetch_status", http.MethodGet, "/task/"+url.PathEscape(taskID), nil)
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{Err: err}
		return nil, spanErr
	}
	data, err := httpclient.ReadBody(resp, c.maxBody)
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{StatusCode: resp.StatusCode, Err: err}
		return nil, spanErr
	}
	if !isSuccess(resp.StatusCode) {
		spanErr = &agenterrors.RemoteUnavailableError{StatusCode: resp.StatusCode}
		return nil, spanErr
	}

	var status TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		spanErr = &agenterrors.ParseFailureError{Err: err}
		return nil, spanErr
	}
	if status.ID == "" {
		status.ID = taskID
	}
	return &status, nil
}

// FetchFileDownloadURL resolves a temporary download link for fileName.
func (c *Client) FetchFileDownloadURL(ctx context.Context, taskID, fileName string) (string, error) {
	if !c.Configured() {
		return "", agenterrors.NewMissingCredential(config.APIKeyEnv)
	}
	ctx = observability.ContextWithTaskID(ctx, taskID)
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanFetchFileURL)
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	path := "/task/" + url.PathEscape(taskID) + "/output-file/" + url.PathEscape(fileName)
	resp, err := c.do(ctx, "fetch_file_url", http.MethodGet, path, nil)
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{Err: err}
		return "", spanErr
	}
	data, err := httpclient.ReadBody(resp, c.maxBody)
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{StatusCode: resp.StatusCode, Err: err}
		return "", spanErr
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		spanErr = &agenterrors.NotFoundError{Resource: "output file " + fileName}
		return "", spanErr
	case !isSuccess(resp.StatusCode):
		spanErr = &agenterrors.RemoteUnavailableError{StatusCode: resp.StatusCode}
		return "", spanErr
	}

	var payload fileURLPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		spanErr = &agenterrors.ParseFailureError{Err: err}
		return "", spanErr
	}
	if strings.TrimSpace(payload.DownloadURL) == "" {
		spanErr = &agenterrors.NotFoundError{Resource: "output file " + fileName}
		return "", spanErr
	}
	return payload.DownloadURL, nil
}

// ProbeResponse is a raw answer from an artifact endpoint.
type ProbeResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r ProbeResponse) OK() bool {
	return isSuccess(r.StatusCode)
}

// Probe issues an authenticated GET against a path relative to the base URL
// and returns whatever came back. Non-success statuses are not errors here;
// the caller decides what a miss means.
func (c *Client) Probe(ctx context.Context, path string) (ProbeResponse, error) {
	if !c.Configured() {
		return ProbeResponse{}, agenterrors.NewMissingCredential(config.APIKeyEnv)
	}
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanProbe, attribute.String(observability.AttrCandidate, path))
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	resp, err := c.do(ctx, "probe", http.MethodGet, path, nil)
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{Err: err}
		return ProbeResponse{}, spanErr
	}
	out := ProbeResponse{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if !isSuccess(resp.StatusCode) {
		httpclient.Discard(resp)
		span.SetAttributes(attribute.Int(observability.AttrStatusCode, resp.StatusCode))
		return out, nil
	}
	out.Body, err = httpclient.ReadBody(resp, c.maxBody)
	if err != nil {
		spanErr = &agenterrors.RemoteUnavailableError{StatusCode: resp.StatusCode, Err: err}
		return ProbeResponse{}, spanErr
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.metrics.RecordRemoteRequest(ctx, operation, status, time.Since(started))
	if err != nil {
		logging.FromContext(ctx, c.logger).Debug("%s failed: %v", operation, err)
		return nil, err
	}
	return resp, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
