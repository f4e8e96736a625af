package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisahq/lisa/checkpoint"
	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/router"
	"github.com/lisahq/lisa/stream"
	"github.com/lisahq/lisa/workflow"
)

// DefaultMaxTurnDepth bounds node transitions within one turn.
const DefaultMaxTurnDepth = 8

// Runtime executes conversation turns. State for a thread is serialized; a
// second message for the same thread waits until the prior turn checkpoints.
type Runtime struct {
	nodes      map[string]NodeFunc
	store      checkpoint.Store
	workflows  *workflow.Registry
	classifier *router.Classifier
	adapter    llm.Adapter
	logger     *slog.Logger
	metrics    *Metrics
	maxDepth   int

	locks sync.Map // thread id -> *sync.Mutex
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) RuntimeOption {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithMaxTurnDepth overrides the node transition bound.
func WithMaxTurnDepth(n int) RuntimeOption {
	return func(r *Runtime) {
		r.maxDepth = n
	}
}

// NewRuntime wires the four standard nodes.
func NewRuntime(adapter llm.Adapter, workflows *workflow.Registry, store checkpoint.Store, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:     store,
		workflows: workflows,
		adapter:   adapter,
		logger:    slog.Default(),
		maxDepth:  DefaultMaxTurnDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.classifier = router.NewClassifier(adapter, workflows, r.logger)
	r.nodes = map[string]NodeFunc{
		NodeIntentRouter:  intentRouterNode,
		NodeClarifyIntent: clarifyIntentNode,
		NodeReasoning:     reasoningNode,
		NodeArtifact:      artifactNode,
	}
	return r
}

// Invoke runs one turn without event delivery and returns the final state.
func (r *Runtime) Invoke(ctx context.Context, threadID string, input Input) (*State, error) {
	return r.Stream(ctx, threadID, input, nil)
}

// Stream runs one turn, delivering events to emit as they are produced, and
// returns the final state. The state is checkpointed after every node; a
// failed turn rolls back to the state before the turn started.
func (r *Runtime) Stream(ctx context.Context, threadID string, input Input, emit stream.Emitter) (*State, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	if emit == nil {
		emit = func(stream.Event) {}
	}

	mu := r.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	state, revision, err := r.loadState(ctx, threadID)
	if err != nil {
		return nil, err
	}
	startRevision := revision

	turnStart, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}

	state.Messages = append(state.Messages, input.Normalize()...)

	side := &Side{
		Emit:       emit,
		Adapter:    r.adapter,
		Workflows:  r.workflows,
		Classifier: r.classifier,
		Logger:     r.logger.With("thread_id", threadID),
		Metrics:    r.metrics,
	}

	node := NodeIntentRouter
	for depth := 0; node != NodeEnd; depth++ {
		if depth >= r.maxDepth {
			err := fmt.Errorf("turn exceeded max depth %d at node %s", r.maxDepth, node)
			r.abortTurn(ctx, threadID, side, turnStart, startRevision, revision, stream.ErrKindFatal, err)
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.rollback(ctx, threadID, turnStart, startRevision, revision)
			r.countTurn("cancelled")
			return nil, ctxErr
		}

		fn, ok := r.nodes[node]
		if !ok {
			err := fmt.Errorf("unknown node %q", node)
			r.abortTurn(ctx, threadID, side, turnStart, startRevision, revision, stream.ErrKindFatal, err)
			return nil, err
		}

		started := time.Now()
		next, nodeErr := fn(ctx, state, side)
		if r.metrics != nil {
			r.metrics.NodeDuration.WithLabelValues(node).Observe(time.Since(started).Seconds())
		}
		if nodeErr != nil {
			kind := stream.ErrKindFatal
			if llm.IsTransient(nodeErr) || llm.IsFatal(nodeErr) {
				kind = stream.ErrKindModel
			}
			r.abortTurn(ctx, threadID, side, turnStart, startRevision, revision, kind, nodeErr)
			return nil, fmt.Errorf("node %s: %w", node, nodeErr)
		}

		if err := state.Validate(); err != nil {
			err = fmt.Errorf("invariant violated after node %s: %w", node, err)
			r.abortTurn(ctx, threadID, side, turnStart, startRevision, revision, stream.ErrKindFatal, err)
			return nil, err
		}

		revision, err = r.saveState(ctx, threadID, state, revision)
		if err != nil {
			return nil, err
		}
		node = next
	}

	r.countTurn("ok")
	return state, nil
}

// Delete removes a thread's state.
func (r *Runtime) Delete(ctx context.Context, threadID string) error {
	mu := r.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()
	return r.store.Delete(ctx, threadID)
}

func (r *Runtime) threadLock(threadID string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(threadID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (r *Runtime) loadState(ctx context.Context, threadID string) (*State, uint64, error) {
	snap, err := r.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return NewState(), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load checkpoint: %w", err)
	}

	state := NewState()
	if err := json.Unmarshal(snap.State, state); err != nil {
		return nil, 0, fmt.Errorf("decode checkpoint: %w", err)
	}
	if state.Artifacts == nil {
		state.Artifacts = map[string]map[string]any{}
	}
	return state, snap.Revision, nil
}

func (r *Runtime) saveState(ctx context.Context, threadID string, state *State, revision uint64) (uint64, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}
	newRevision, err := r.store.Save(ctx, threadID, data, revision)
	if err != nil {
		return 0, fmt.Errorf("save checkpoint: %w", err)
	}
	return newRevision, nil
}

// abortTurn reports the failure and restores the pre-turn state.
func (r *Runtime) abortTurn(ctx context.Context, threadID string, side *Side, turnStart []byte, startRevision, revision uint64, kind string, err error) {
	side.EmitError(kind, err)
	r.rollback(ctx, threadID, turnStart, startRevision, revision)
	r.countTurn("aborted")
}

// rollback rewrites the pre-turn snapshot when mid-turn checkpoints were
// already taken, so the prior state stays authoritative.
func (r *Runtime) rollback(ctx context.Context, threadID string, turnStart []byte, startRevision, revision uint64) {
	if revision == startRevision {
		return
	}
	// The turn context may already be cancelled; the rollback write must
	// still go through.
	ctx = context.WithoutCancel(ctx)
	if _, err := r.store.Save(ctx, threadID, turnStart, revision); err != nil {
		r.logger.Error("Checkpoint rollback failed", "thread_id", threadID, "error", err)
	}
}

func (r *Runtime) countTurn(outcome string) {
	if r.metrics != nil {
		r.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	}
}
