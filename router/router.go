// Package router classifies free-text user messages into workflow intents.
// Classification is delegated to the model with a structured response schema;
// the router enforces the closed intent set and the confidence policy.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/workflow"
)

// Intents the router may return. Empty means the message continues the
// current conversation and no workflow transition is needed.
const (
	IntentStartTestDesign        = "START_TEST_DESIGN"
	IntentStartRequirementReview = "START_REQUIREMENT_REVIEW"
)

// Confidence bands. Below the clarify threshold the router must ask an open
// question; between the two thresholds it asks for confirmation; at or above
// the confirm threshold the intent passes through.
const (
	ClarifyThreshold = 0.7
	ConfirmThreshold = 0.9
)

// contextWindow is how many recent messages are shown to the classifier.
const contextWindow = 6

// Classification is the structured routing decision.
type Classification struct {
	// Intent is one of the closed intent set, or "" for continuation.
	Intent string `json:"intent"`

	// Confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Entities are free-form extracted slots (page, module, document name).
	Entities map[string]string `json:"entities,omitempty"`

	// Reason is the model's one-line justification, kept for logging.
	Reason string `json:"reason,omitempty"`

	// Clarification is the question to ask when confidence is insufficient.
	Clarification string `json:"clarification,omitempty"`
}

// RoutingError wraps an upstream failure during classification so the graph
// can route to a safe default clarification.
type RoutingError struct {
	err error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("intent routing failed: %v", e.err)
}

func (e *RoutingError) Unwrap() error {
	return e.err
}

// Context is the state snapshot the classifier sees.
type Context struct {
	// CurrentWorkflow is the active workflow id, or "".
	CurrentWorkflow string

	// CurrentStage is the active stage name, or "".
	CurrentStage string

	// ArtifactsSummary is a short description of artifacts built so far.
	ArtifactsSummary string

	// Messages is the recent conversation; only the tail is used.
	Messages []llm.Message
}

// Classifier routes user messages via the model adapter.
type Classifier struct {
	adapter  llm.Adapter
	registry *workflow.Registry
	logger   *slog.Logger
}

// NewClassifier creates an intent classifier.
func NewClassifier(adapter llm.Adapter, registry *workflow.Registry, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{adapter: adapter, registry: registry, logger: logger}
}

// Classify maps the conversation context to a routing decision. Any upstream
// failure is wrapped as a RoutingError carrying the original cause.
func (c *Classifier) Classify(ctx context.Context, rc Context) (*Classification, error) {
	messages := []llm.Message{
		{Role: "system", Content: c.systemPrompt(rc)},
	}
	messages = append(messages, tail(rc.Messages, contextWindow)...)

	var result Classification
	err := llm.CompleteStructured(ctx, c.adapter, llm.StructuredRequest{
		Request: llm.Request{
			Capability: "routing",
			Messages:   messages,
		},
	}, &result)
	if err != nil {
		return nil, &RoutingError{err: err}
	}

	c.normalize(&result, rc)

	c.logger.Debug("Intent classified",
		"intent", result.Intent,
		"confidence", result.Confidence,
		"clarification", result.Clarification != "")

	return &result, nil
}

// normalize enforces the closed intent set and the confidence policy on the
// raw model output.
func (c *Classifier) normalize(result *Classification, rc Context) {
	result.Intent = strings.TrimSpace(strings.ToUpper(result.Intent))
	switch result.Intent {
	case IntentStartTestDesign, IntentStartRequirementReview:
	case "", "NULL", "NONE":
		result.Intent = ""
	default:
		// Unknown label from the model: treat as unclassifiable.
		c.logger.Warn("Model returned unknown intent", "intent", result.Intent)
		result.Intent = ""
		if result.Confidence > ClarifyThreshold {
			result.Confidence = ClarifyThreshold - 0.1
		}
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	// Continuation of an active workflow: the reasoning node handles it.
	if result.Intent == "" && rc.CurrentWorkflow != "" && result.Confidence >= ConfirmThreshold {
		result.Clarification = ""
		return
	}

	// Same-kind intent while that workflow is already active is a
	// continuation too.
	if result.Intent != "" && rc.CurrentWorkflow != "" {
		if wf := c.registry.ForIntent(result.Intent); wf != nil && wf.ID == rc.CurrentWorkflow {
			result.Clarification = ""
			return
		}
	}

	// Below the confirm threshold a clarification is mandatory; synthesize a
	// default if the model omitted one.
	if result.Confidence < ConfirmThreshold && result.Clarification == "" {
		result.Clarification = DefaultClarification
	}
	if result.Confidence >= ConfirmThreshold {
		result.Clarification = ""
	}
}

// DefaultClarification is the fallback question when classification cannot
// decide and the model supplied no question of its own.
const DefaultClarification = "抱歉，我没有完全理解您的需求。您是希望我帮您设计测试用例，还是评审需求文档？"

// systemPrompt builds the classifier instruction with the state snapshot.
func (c *Classifier) systemPrompt(rc Context) string {
	var sb strings.Builder
	sb.WriteString(`You are the intent router of a QA workflow assistant. Classify the user's latest message.

Intents:
- START_TEST_DESIGN: the user wants test cases designed for a feature or page.
- START_REQUIREMENT_REVIEW: the user wants a requirement document reviewed.
- null: the message continues the current conversation, or fits no intent.

Rules:
- If a workflow is already active and the message is a continuation of it (an answer, a follow-up, additional detail), return intent null with confidence >= 0.9 and no clarification. Judge by meaning, not keywords.
- confidence < 0.7: you MUST provide "clarification" as an open question.
- 0.7 <= confidence < 0.9: you MUST provide "clarification" phrased as a confirmation of your best guess.
- confidence >= 0.9: no clarification.
- Answer in the user's language.

Respond with ONLY a JSON object:
{"intent": "START_TEST_DESIGN" | "START_REQUIREMENT_REVIEW" | null, "confidence": 0.0-1.0, "entities": {...}, "reason": "...", "clarification": "..."}`)

	sb.WriteString("\n\nCurrent state:\n")
	if rc.CurrentWorkflow == "" {
		sb.WriteString("- no active workflow\n")
	} else {
		fmt.Fprintf(&sb, "- active workflow: %s\n", rc.CurrentWorkflow)
		if rc.CurrentStage != "" {
			fmt.Fprintf(&sb, "- current stage: %s\n", rc.CurrentStage)
		}
	}
	if rc.ArtifactsSummary != "" {
		fmt.Fprintf(&sb, "- artifacts: %s\n", rc.ArtifactsSummary)
	}
	return sb.String()
}

// tail returns the last n messages.
func tail(messages []llm.Message, n int) []llm.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
