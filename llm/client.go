// Package llm provides a provider-agnostic model adapter with retry and
// fallback support. It is the only egress point for model calls: completion,
// streaming completion, and tool calling all go through Client.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lisahq/lisa/model"
)

// maxResponseSize limits the model response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Adapter is the narrow interface conversation nodes depend on. Client is the
// production implementation; testutil provides a mock.
type Adapter interface {
	// Complete sends a completion request and returns the final response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// CompleteStream sends a completion request in streaming mode, invoking
	// onChunk for each incremental delta before returning the final response.
	CompleteStream(ctx context.Context, req Request, onChunk func(StreamChunk) error) (*Response, error)
}

// Client is a provider-agnostic model client with retry and fallback support.
type Client struct {
	registry    *model.Registry
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	// Name is the tool identifier.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// Parameters is the JSON schema of the tool arguments.
	Parameters map[string]any `json:"parameters"`
}

// ToolCall is one tool invocation in a model response.
type ToolCall struct {
	// ID is the provider-assigned call id.
	ID string `json:"id"`

	// Name is the tool that was called.
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload.
	Arguments string `json:"arguments"`
}

// Request defines a model completion request.
type Request struct {
	// Capability specifies the semantic capability ("routing", "reasoning",
	// "artifact"). The registry resolves this to available endpoints.
	Capability string

	// Messages is the chat history to send to the model.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int

	// Tools lists tools the model may call. Empty disables tool calling.
	Tools []ToolDefinition

	// ToolChoice forces a specific tool by name, or "" for model choice.
	ToolChoice string
}

// TokenUsage represents token consumption details for a model call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the model completion result.
type Response struct {
	// RequestID uniquely identifies this call for event correlation.
	RequestID string

	// Content is the generated text.
	Content string

	// ToolCalls are tool invocations requested by the model, if any.
	ToolCalls []ToolCall

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// StreamChunk is one incremental piece of a streaming response.
type StreamChunk struct {
	// ContentDelta is the newly generated text since the previous chunk.
	ContentDelta string

	// Done marks the terminal chunk of the stream.
	Done bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a new model client with the given registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:    registry,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for model responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends a completion request, handling retry and fallback logic.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	return c.complete(ctx, req, nil)
}

// CompleteStream sends a completion request in streaming mode. onChunk is
// invoked for each incremental delta; an error from onChunk aborts the
// stream. Fallback to the next endpoint only happens if the failure occurred
// before the first delta was delivered.
func (c *Client) CompleteStream(ctx context.Context, req Request, onChunk func(StreamChunk) error) (*Response, error) {
	if onChunk == nil {
		return nil, fmt.Errorf("onChunk callback is required")
	}
	return c.complete(ctx, req, onChunk)
}

func (c *Client) complete(ctx context.Context, req Request, onChunk func(StreamChunk) error) (*Response, error) {
	if req.Capability == "" {
		return nil, fmt.Errorf("capability is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.New().String()

	capVal := model.ParseCapability(req.Capability)
	if capVal == "" {
		capVal = model.CapabilityRouting // Cheapest tier for unknown capabilities
	}
	chain := c.registry.FallbackChain(capVal)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no models configured for capability %s", req.Capability)
	}

	var lastErr error
	for _, modelName := range chain {
		endpoint := c.registry.Endpoint(modelName)
		if endpoint == nil {
			c.logger.Debug("No endpoint for model, skipping", "model", modelName)
			continue
		}

		resp, delivered, err := c.tryEndpointWithRetry(ctx, endpoint, modelName, req, onChunk)
		if err == nil {
			resp.RequestID = requestID
			return resp, nil
		}
		lastErr = err

		c.logger.Warn("Endpoint failed, trying fallback",
			"model", modelName,
			"provider", endpoint.Provider,
			"error", err)

		if IsFatal(err) {
			c.logger.Warn("Fatal error, not trying fallbacks", "error", err)
			return nil, err
		}
		if delivered {
			// Deltas already reached the consumer; switching endpoints would
			// corrupt the stream.
			return nil, err
		}
	}

	return nil, fmt.Errorf("all endpoints failed for capability %s: %w", req.Capability, lastErr)
}

// tryEndpointWithRetry attempts a request with retry logic. delivered reports
// whether any stream delta reached the consumer before failure.
func (c *Client) tryEndpointWithRetry(ctx context.Context, ep *model.EndpointConfig, modelName string, req Request, onChunk func(StreamChunk) error) (resp *Response, delivered bool, err error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		var resp *Response
		var err error
		if onChunk != nil {
			resp, delivered, err = c.doStreamRequest(ctx, ep, req, onChunk)
		} else {
			resp, err = c.doRequest(ctx, ep, req)
		}
		if err == nil {
			c.registry.Health().MarkSuccess(modelName)
			return resp, delivered, nil
		}

		lastErr = err

		// Fatal errors may indicate config issues, not endpoint health.
		if IsFatal(err) {
			return nil, delivered, err
		}
		// A broken stream cannot be resumed transparently.
		if delivered {
			break
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, delivered, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	c.registry.Health().MarkFailure(modelName)
	return nil, delivered, lastErr
}

// calculateBackoff computes exponential backoff duration with jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request to the model endpoint.
func (c *Client) doRequest(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	body, err := provider.BuildRequestBody(ep.Model, req, false)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending model request",
		"provider", ep.Provider,
		"model", ep.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools))

	respBody, err := c.post(ctx, provider, ep, body)
	if err != nil {
		return nil, err
	}

	return provider.ParseResponse(respBody, ep.Model)
}

// post sends the request body and returns the raw response body, classifying
// transport and HTTP status failures.
func (c *Client) post(ctx context.Context, provider Provider, ep *model.EndpointConfig, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BuildURL(ep.URL), bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}
	return respBody, nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("model API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
