package graph

import (
	"context"
	"log/slog"

	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/router"
	"github.com/lisahq/lisa/stream"
	"github.com/lisahq/lisa/workflow"
)

// Node ids. NodeEnd terminates the turn.
const (
	NodeIntentRouter  = "intent_router"
	NodeClarifyIntent = "clarify_intent"
	NodeReasoning     = "reasoning"
	NodeArtifact      = "artifact"
	NodeEnd           = ""
)

// NodeFunc runs one node against the working state and returns the next node
// id. Nodes mutate only the working copy the runtime hands them; their side
// effects are limited to the emitter and the model adapter.
type NodeFunc func(ctx context.Context, s *State, side *Side) (string, error)

// Side bundles the side channels a node may use.
type Side struct {
	// Emit delivers turn events to the consumer. Never nil inside a node.
	Emit stream.Emitter

	// Adapter is the model egress.
	Adapter llm.Adapter

	// Workflows is the immutable workflow catalogue.
	Workflows *workflow.Registry

	// Classifier routes user intent.
	Classifier *router.Classifier

	Logger  *slog.Logger
	Metrics *Metrics
}

// EmitError reports a recovered failure on the event channel.
func (s *Side) EmitError(kind string, err error) {
	s.Emit(stream.Event{
		Type:  stream.TypeError,
		Error: &stream.EventError{Kind: kind, Message: err.Error()},
	})
	if s.Metrics != nil {
		s.Metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	}
	s.Logger.Warn("Turn error recovered", "kind", kind, "error", err)
}
