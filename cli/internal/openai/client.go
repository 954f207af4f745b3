// Package openai provides an HTTP client for an OpenAI-compatible text
// completion endpoint (POST /completions) and a health check (GET /models).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"commitai/cli/internal/version"
)

const (
	// Model is the completion model used for every request. It is not configurable.
	Model = "gpt-3.5-turbo-instruct"
	// ContextLimit is Model's context window in tokens.
	ContextLimit = 4096
	// DefaultBaseURL is the API root used when no base_url is configured.
	DefaultBaseURL = "https://api.openai.com/v1"

	_defaultTimeout = 60 * time.Second
	_maxErrorBody   = 4 << 10
)

var (
	// ErrUnreachable indicates the endpoint could not be reached (connection refused, DNS, timeout) or answered 5xx.
	ErrUnreachable = errors.New("completion endpoint unreachable")
	// ErrUnauthorized indicates the endpoint rejected the API key (HTTP 401/403).
	ErrUnauthorized = errors.New("API key rejected")
)

// RequestError is a failed completion or check request. Err carries the
// underlying cause (transport error, ErrUnreachable, ErrUnauthorized, or a
// decode error); StatusCode is 0 when no response was received.
type RequestError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString("openai ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

// KeySource supplies the bearer credential. *credential.Gate implements it.
type KeySource interface {
	Require(ctx context.Context) (string, error)
}

// Options configures NewClient. All fields are optional.
type Options struct {
	// HTTPClient defaults to a plain http.Client; Timeout below applies per request.
	HTTPClient *http.Client
	// Timeout bounds each request (default 60s; negative disables).
	Timeout time.Duration
	// Limiter, when set, is waited on before every request.
	Limiter *rate.Limiter
}

// Client calls the completion API. Zero value is not valid; use NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       KeySource
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewClient builds a client for the API rooted at baseURL (e.g.
// https://api.openai.com/v1). The key is fetched from keys on every request,
// so a newly set key is used without restarting.
func NewClient(baseURL string, keys KeySource, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = _defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		keys:       keys,
		timeout:    timeout,
		limiter:    opts.Limiter,
	}
}

// NewLimiter returns a limiter allowing rps requests per second with a burst
// of one, or nil when rps <= 0.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Completion is the trimmed text of the first choice plus usage counters.
type Completion struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Empty reports whether the response had no choices or only blank text.
func (c Completion) Empty() bool { return c.Text == "" }

// Truncated reports whether the model stopped at the max_tokens budget.
func (c Completion) Truncated() bool { return c.FinishReason == "length" }

// Complete sends prompt with the given token budget and returns the first
// choice. An empty choice list is not an error; check Completion.Empty.
// Returns the KeySource error (e.g. credential.ErrMissing) before any network I/O.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	key, err := c.keys.Require(ctx)
	if err != nil {
		return Completion{}, err
	}
	payload, err := json.Marshal(completionRequest{Model: Model, Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		return Completion{}, &RequestError{Op: "completion", Err: fmt.Errorf("marshal request: %w", err)}
	}
	var body completionResponse
	if err := c.do(ctx, "completion", http.MethodPost, "/completions", key, payload, &body); err != nil {
		return Completion{}, err
	}
	out := Completion{
		PromptTokens:     body.Usage.PromptTokens,
		CompletionTokens: body.Usage.CompletionTokens,
	}
	if len(body.Choices) > 0 {
		out.Text = strings.TrimSpace(body.Choices[0].Text)
		out.FinishReason = body.Choices[0].FinishReason
	}
	return out, nil
}

// CheckResult is the result of a health check.
type CheckResult struct {
	Reachable    bool     // Endpoint answered 200 to GET /models.
	ModelPresent bool     // Model appears in the list.
	ModelIDs     []string // All listed model ids (for diagnostics).
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Check verifies the endpoint is reachable with the current key and whether
// Model is listed.
func (c *Client) Check(ctx context.Context) (*CheckResult, error) {
	key, err := c.keys.Require(ctx)
	if err != nil {
		return nil, err
	}
	var body modelsResponse
	if err := c.do(ctx, "models", http.MethodGet, "/models", key, nil, &body); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(body.Data))
	present := false
	for _, m := range body.Data {
		ids = append(ids, m.ID)
		if m.ID == Model {
			present = true
		}
	}
	return &CheckResult{Reachable: true, ModelPresent: present, ModelIDs: ids}, nil
}

func (c *Client) do(ctx context.Context, op, method, path, key string, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &RequestError{Op: op, Err: err}
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: errors.Join(ErrUnreachable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, _maxErrorBody))
		rerr := &RequestError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			rerr.Err = ErrUnauthorized
		case resp.StatusCode >= 500:
			rerr.Err = ErrUnreachable
		}
		return rerr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}

// errorMessage extracts error.message from an API error body, falling back to
// the trimmed raw body.
func errorMessage(raw []byte) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
