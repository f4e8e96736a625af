package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultSchemaRetries is the re-ask budget for structured completions.
const DefaultSchemaRetries = 2

// maxRawErrorSnippet bounds the raw output kept on a SchemaError.
const maxRawErrorSnippet = 500

// StructuredRequest asks for a completion whose content must decode into a
// typed value.
type StructuredRequest struct {
	// Request is the underlying completion request. The caller's prompt must
	// already describe the expected JSON shape.
	Request

	// MaxSchemaRetries is how many stricter re-asks are attempted after a
	// schema violation. 0 uses DefaultSchemaRetries.
	MaxSchemaRetries int
}

// CompleteStructured runs a completion and decodes the response into out.
// If the response does not decode, the model is re-asked with a stricter
// instruction up to the retry budget; after exhaustion a SchemaError is
// returned carrying the last raw output.
func CompleteStructured(ctx context.Context, adapter Adapter, req StructuredRequest, out any) error {
	retries := req.MaxSchemaRetries
	if retries <= 0 {
		retries = DefaultSchemaRetries
	}

	messages := req.Messages
	var lastRaw string
	var lastErr error

	for attempt := 1; attempt <= retries+1; attempt++ {
		attemptReq := req.Request
		attemptReq.Messages = messages

		resp, err := adapter.Complete(ctx, attemptReq)
		if err != nil {
			return err
		}
		lastRaw = resp.Content

		if err := DecodeStructured(resp.Content, out); err == nil {
			return nil
		} else {
			lastErr = err
		}

		slog.Debug("Structured completion failed to decode, re-asking",
			"attempt", attempt,
			"error", lastErr)

		// Stricter re-ask: echo the broken output and demand bare JSON.
		messages = append(messages,
			Message{Role: "assistant", Content: resp.Content},
			Message{Role: "user", Content: "Your previous response was not valid JSON matching the required schema. " +
				"Respond again with ONLY the JSON object, no prose, no markdown fences."},
		)
	}

	raw := lastRaw
	if len(raw) > maxRawErrorSnippet {
		raw = raw[:maxRawErrorSnippet] + "..."
	}
	return &SchemaError{Attempts: retries + 1, Raw: raw, err: lastErr}
}

// DecodeStructured decodes model output into out, tolerating markdown fences
// and stray prose around the JSON object.
func DecodeStructured(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("empty response")
	}

	// Direct decode first: well-behaved structured output.
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	extracted := ExtractJSON(trimmed)
	if extracted == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return fmt.Errorf("decode extracted JSON: %w", err)
	}
	return nil
}
