package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kajande/dulayni-cli/internal/constants"
	"github.com/kajande/dulayni-cli/internal/logging"
)

// Remote endpoints
const (
	PathAuth      = "/auth"
	PathVerify    = "/verify"
	PathRunAgent  = "/run_agent"
	PathRunStream = "/run_agent_stream"
	PathHealth    = "/health"
	PathBalance   = "/balance"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Params are the optional query fields. As defaults they apply to every
// query; as overrides they apply to one. Empty values are unset.
type Params struct {
	AgentType    string
	Model        string
	SystemPrompt string
	ThreadID     string
	MemoryDB     string
	PgURI        string
	MCPServers   map[string]any
	APIKey       string

	// Timeout overrides the client timeout for one call. For streams it is
	// the longest silence allowed between events. Never sent.
	Timeout time.Duration
}

// Payload is the JSON body of /run_agent and /run_agent_stream. Unset
// optional fields are omitted so the server applies its own defaults.
type Payload struct {
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	AgentType     string         `json:"agent_type,omitempty"`
	Model         string         `json:"model,omitempty"`
	SystemPrompt  string         `json:"system_prompt,omitempty"`
	ThreadID      string         `json:"thread_id,omitempty"`
	MemoryDB      string         `json:"memory_db,omitempty"`
	PgURI         string         `json:"pg_uri,omitempty"`
	MCPServers    map[string]any `json:"mcp_servers,omitempty"`
	DulayniAPIKey string         `json:"dulayni_api_key,omitempty"`
}

// ConnectionState is a snapshot of the client's authentication state.
type ConnectionState struct {
	BaseURL               string
	BearerToken           string
	IsAuthenticated       bool
	VerificationSessionID string
}

// Balance is the account balance reported by the service.
type Balance struct {
	PhoneNumber string  `json:"phone_number"`
	Balance     float64 `json:"balance"`
}

// HealthStatus is the result of HealthCheck. On failure Status is "error"
// and Error is one of connection_error, timeout or request_error.
type HealthStatus struct {
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"message,omitempty"`
	DebugTools *bool          `json:"debug_tools,omitempty"`
	Details    map[string]any `json:"-"`
}

// Healthy reports whether the service answered the probe.
func (h HealthStatus) Healthy() bool {
	return h.Status != "error"
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	PhoneNumber string
	APIKey      string
	Defaults    Params
	Timeout     time.Duration

	// HTTPClient replaces the default client; its Timeout is left alone and
	// applies on top of the per-call deadline.
	HTTPClient *http.Client
	Logger     *logging.Logger
	// Debug logs every request and response through the logger.
	Debug bool
	Sink  EventSink
}

// Client speaks the agent service protocol. It holds the current
// credential but makes no authentication decisions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	defaults   Params
	logger     *logging.Logger
	httpLogger *logging.HTTPLogger
	sink       EventSink

	mu          sync.Mutex
	phoneNumber string
	apiKey      string
	bearerToken string
	sessionID   string
}

// NormalizeBaseURL strips trailing slashes and a trailing /run_agent so
// both the service root and the old endpoint URL are accepted.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		u = constants.DefaultAPIURL
	}
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, PathRunAgent)
	return strings.TrimRight(u, "/")
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}

	c := &Client{
		baseURL:     NormalizeBaseURL(opts.BaseURL),
		timeout:     timeout,
		defaults:    opts.Defaults,
		logger:      logger,
		sink:        opts.Sink,
		phoneNumber: opts.PhoneNumber,
		apiKey:      opts.APIKey,
	}
	if c.sink == nil {
		c.sink = NopSink{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Deadlines are per call: withTimeout for requests, idleTimer for streams.
		httpClient = &http.Client{}
	}
	if opts.Debug {
		c.httpLogger = logging.NewHTTPLogger(logger)
		wrapped := *httpClient
		wrapped.Transport = logging.NewLoggingRoundTripper(httpClient.Transport, c.httpLogger, true)
		httpClient = &wrapped
	}
	c.httpClient = httpClient
	return c
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Defaults returns the per-client query defaults.
func (c *Client) Defaults() Params { return c.defaults }

// SetSink replaces the side-channel for tool and todo events.
func (c *Client) SetSink(sink EventSink) {
	if sink == nil {
		sink = NopSink{}
	}
	c.sink = sink
}

// SetAPIKey switches the client to static-key authentication.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// SetAuthToken installs a bearer token.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearerToken = token
}

// SetPhoneNumber changes the phone identity. A different number drops the
// current token and any verification in progress.
func (c *Client) SetPhoneNumber(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if phone == c.phoneNumber {
		return
	}
	c.phoneNumber = phone
	c.bearerToken = ""
	c.sessionID = ""
}

// PhoneNumber returns the phone identity, if any.
func (c *Client) PhoneNumber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phoneNumber
}

// ClearAuth drops the bearer token and any verification in progress. A
// static key is kept.
func (c *Client) ClearAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearerToken = ""
	c.sessionID = ""
}

// IsAuthenticated reports whether a query would carry a credential.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey != "" || c.bearerToken != ""
}

// State returns a snapshot of the connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionState{
		BaseURL:               c.baseURL,
		BearerToken:           c.bearerToken,
		IsAuthenticated:       c.apiKey != "" || c.bearerToken != "",
		VerificationSessionID: c.sessionID,
	}
}

func (c *Client) credentials() (apiKey, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey, c.bearerToken
}

// BuildPayload merges overrides over the client defaults. role and content
// are always set; every other field is omitted when both are empty.
func (c *Client) BuildPayload(content string, ov Params) Payload {
	apiKey, _ := c.credentials()
	d := c.defaults

	mcp := ov.MCPServers
	if mcp == nil {
		mcp = d.MCPServers
	}
	return Payload{
		Role:          "user",
		Content:       content,
		AgentType:     pick(ov.AgentType, d.AgentType),
		Model:         pick(ov.Model, d.Model),
		SystemPrompt:  pick(ov.SystemPrompt, d.SystemPrompt),
		ThreadID:      pick(ov.ThreadID, d.ThreadID),
		MemoryDB:      pick(ov.MemoryDB, d.MemoryDB),
		PgURI:         pick(ov.PgURI, d.PgURI),
		MCPServers:    mcp,
		DulayniAPIKey: pick(ov.APIKey, d.APIKey, apiKey),
	}
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Query runs the agent and returns the "response" field of the answer.
func (c *Client) Query(ctx context.Context, content string, ov Params) (string, error) {
	body, err := c.runAgent(ctx, content, ov)
	if err != nil {
		return "", err
	}

	var out struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Response == nil {
		return "", &ClientError{StatusCode: http.StatusOK, Message: "unexpected response: missing \"response\" field"}
	}
	return *out.Response, nil
}

// QueryJSON runs the agent and returns the whole decoded answer.
func (c *Client) QueryJSON(ctx context.Context, content string, ov Params) (map[string]any, error) {
	body, err := c.runAgent(ctx, content, ov)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ClientError{StatusCode: http.StatusOK, Message: "unexpected response: " + err.Error()}
	}
	return out, nil
}

func (c *Client) runAgent(ctx context.Context, content string, ov Params) ([]byte, error) {
	if err := c.requireCredential(); err != nil {
		return nil, err
	}

	ctx, cancel, timeout := c.withTimeout(ctx, ov.Timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, PathRunAgent, c.BuildPayload(content, ov))
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, translateTransportError(req.URL.String(), timeout, err)
	}
	if err := c.checkStatus(resp, body); err != nil {
		return nil, err
	}
	return body, nil
}

// QueryStream opens an event stream for content. Errors before the first
// byte (auth, connection, status) are returned here; later failures end
// the stream and are reported by Stream.Err.
func (c *Client) QueryStream(ctx context.Context, content string, ov Params) (*Stream, error) {
	if err := c.requireCredential(); err != nil {
		return nil, err
	}

	timeout := c.timeout
	if ov.Timeout > 0 {
		timeout = ov.Timeout
	}
	ctx, cancel := context.WithCancel(ctx)
	idle := newIdleTimer(timeout, cancel)
	fail := func(err error) error {
		idle.stop()
		cancel()
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathRunStream, c.BuildPayload(content, ov))
	if err != nil {
		return nil, fail(err)
	}
	req.Header.Set("Accept", "text/event-stream")

	url := req.URL.String()
	translate := func(err error) error {
		if idle.expired() {
			return &TimeoutError{URL: url, Timeout: timeout, Err: err}
		}
		return translateTransportError(url, timeout, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(translate(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, fail(c.checkStatus(resp, body))
	}
	idle.reset()

	return &Stream{
		ctx:        ctx,
		cancel:     cancel,
		idle:       idle,
		body:       resp.Body,
		reader:     newSSEReader(resp.Body),
		sink:       c.sink,
		logger:     c.logger,
		httpLogger: c.httpLogger,
		translate:  translate,
		openTools:  make(map[string]ToolStartEvent),
	}, nil
}

// Balance fetches the account balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	if err := c.requireCredential(); err != nil {
		return nil, err
	}

	apiKey, _ := c.credentials()
	reqBody := map[string]string{}
	if apiKey != "" {
		reqBody["dulayni_api_key"] = apiKey
	} else if phone := c.PhoneNumber(); phone != "" {
		reqBody["phone_number"] = phone
	}

	ctx, cancel, timeout := c.withTimeout(ctx, 0)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, PathBalance, reqBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, translateTransportError(req.URL.String(), timeout, err)
	}
	if err := c.checkStatus(resp, body); err != nil {
		return nil, err
	}

	var bal Balance
	if err := json.Unmarshal(body, &bal); err != nil {
		return nil, &ClientError{StatusCode: resp.StatusCode, Message: "unexpected balance response: " + err.Error()}
	}
	return &bal, nil
}

// HealthCheck probes the service. It never fails; problems are folded into
// the returned status.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, PathHealth, nil)
	if err != nil {
		return HealthStatus{Status: "error", Error: "request_error", Message: err.Error()}
	}
	resp, err := c.do(req, constants.HealthCheckTimeout)
	if err != nil {
		kind := FailureKind(err)
		if kind != "connection_error" && kind != "timeout" {
			kind = "request_error"
		}
		return HealthStatus{Status: "error", Error: kind, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return HealthStatus{
			Status:  "error",
			Error:   "request_error",
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, serverMessage(body, resp.Status)),
		}
	}

	status := HealthStatus{Status: "ok"}
	_ = json.Unmarshal(body, &status)
	_ = json.Unmarshal(body, &status.Details)
	if status.Status == "" || status.Status == "error" {
		status.Status = "ok"
	}
	return status
}

func (c *Client) requireCredential() error {
	if !c.IsAuthenticated() {
		return &AuthenticationError{Message: "not authenticated: verify your phone number or configure a dulayni API key"}
	}
	return nil
}

// withTimeout bounds a non-streaming call by override, or by the client
// timeout when override is unset.
func (c *Client) withTimeout(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc, time.Duration) {
	timeout := c.timeout
	if override > 0 {
		timeout = override
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, timeout
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dulayni-cli/"+constants.Version)
	req.Header.Set("X-Request-Id", uuid.NewString())

	if _, token := c.credentials(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, timeout time.Duration) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, translateTransportError(req.URL.String(), timeout, err)
	}
	return resp, nil
}

// checkStatus maps non-2xx answers of authenticated calls. A 401 drops the
// local credential before returning.
func (c *Client) checkStatus(resp *http.Response, body []byte) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code <= 299:
		return nil
	case code == http.StatusUnauthorized:
		c.ClearAuth()
		return &AuthenticationError{
			StatusCode: code,
			Expired:    true,
			Message:    serverMessage(body, "credentials expired or rejected, authenticate again"),
		}
	case code == http.StatusPaymentRequired:
		return parsePaymentRequired(body)
	default:
		return &ClientError{StatusCode: code, Message: serverMessage(body, resp.Status)}
	}
}
