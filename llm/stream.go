package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lisahq/lisa/model"
)

// maxStreamLineSize bounds a single SSE line. Tool-call argument deltas can
// be long, but a megabyte line means something upstream is broken.
const maxStreamLineSize = 1 * 1024 * 1024

// StreamEvent is a parsed provider stream event.
type StreamEvent struct {
	// ContentDelta is newly generated text, possibly empty.
	ContentDelta string

	// FinishReason is set on the terminal event.
	FinishReason string

	// Done marks the end of the stream.
	Done bool
}

// StreamingProvider is implemented by providers that support server-sent
// event streaming.
type StreamingProvider interface {
	Provider

	// ParseStreamEvent parses one SSE data payload into a stream event.
	ParseStreamEvent(data []byte) (StreamEvent, error)
}

// doStreamRequest executes a streaming HTTP request, invoking onChunk per
// delta. delivered reports whether any delta reached onChunk, which callers
// use to decide whether fallback is still safe.
func (c *Client) doStreamRequest(ctx context.Context, ep *model.EndpointConfig, req Request, onChunk func(StreamChunk) error) (*Response, bool, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, false, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}
	sp, ok := provider.(StreamingProvider)
	if !ok {
		return nil, false, NewFatalError(fmt.Errorf("provider %s does not support streaming", ep.Provider))
	}

	body, err := provider.BuildRequestBody(ep.Model, req, true)
	if err != nil {
		return nil, false, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BuildURL(ep.URL), bytes.NewReader(body))
	if err != nil {
		return nil, false, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, false, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(httpResp.Body)
		return nil, false, classifyHTTPError(httpResp.StatusCode, buf.Bytes())
	}

	var content strings.Builder
	finishReason := ""
	delivered := false

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		event, err := sp.ParseStreamEvent([]byte(data))
		if err != nil {
			return nil, delivered, NewTransientError(fmt.Errorf("parse stream event: %w", err))
		}

		if event.ContentDelta != "" {
			content.WriteString(event.ContentDelta)
			delivered = true
			if err := onChunk(StreamChunk{ContentDelta: event.ContentDelta}); err != nil {
				return nil, delivered, NewFatalError(fmt.Errorf("stream consumer: %w", err))
			}
		}
		if event.FinishReason != "" {
			finishReason = event.FinishReason
		}
		if event.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, delivered, NewTransientError(fmt.Errorf("read stream: %w", err))
	}

	if err := onChunk(StreamChunk{Done: true}); err != nil {
		return nil, delivered, NewFatalError(fmt.Errorf("stream consumer: %w", err))
	}

	return &Response{
		Content:      content.String(),
		Model:        ep.Model,
		FinishReason: finishReason,
	}, delivered, nil
}
