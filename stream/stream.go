// Package stream consumes incremental structured reasoning output from the
// model and turns it into ordered turn events: text deltas for the growing
// thought, and deduplicated progress updates.
package stream

// ReasoningChunk is one partial structured reasoning response. Thought is a
// prefix-growing aggregate: each chunk's Thought extends the previous one.
type ReasoningChunk struct {
	// Thought is the accumulated reasoning text so far.
	Thought string `json:"thought"`

	// ProgressStep names the task the agent is currently working on, if the
	// model reported one.
	ProgressStep string `json:"progress_step,omitempty"`

	// ShouldUpdateArtifact signals whether this turn warrants an artifact
	// update. Only the value on the final chunk is authoritative.
	ShouldUpdateArtifact bool `json:"should_update_artifact,omitempty"`
}

// Event is one emission from stream processing. Exactly one payload field is
// set depending on Type.
type Event struct {
	Type EventType `json:"type"`

	// Delta is the newly streamed thought text (TypeTextDelta).
	Delta string `json:"delta,omitempty"`

	// Progress is the current plan snapshot (TypeProgress).
	Progress *Progress `json:"progress,omitempty"`

	// Key is the updated artifact key (TypeArtifactUpdated).
	Key string `json:"key,omitempty"`

	// Error describes a recovered failure (TypeError).
	Error *EventError `json:"error,omitempty"`
}

// EventType enumerates stream event kinds.
type EventType string

const (
	// TypeTextDelta carries an increment of the reasoning text.
	TypeTextDelta EventType = "text_delta_chunk"
	// TypeProgress carries a plan/progress snapshot.
	TypeProgress EventType = "progress"
	// TypeArtifactUpdated signals that an artifact was merged and saved.
	TypeArtifactUpdated EventType = "artifact_updated"
	// TypeError reports a recovered failure with its kind.
	TypeError EventType = "error"
)

// Error kinds carried on TypeError events.
const (
	ErrKindRouting = "routing_error"
	ErrKindPatch   = "patch_error"
	ErrKindSchema  = "schema_error"
	ErrKindModel   = "model_error"
	ErrKindFatal   = "fatal"
)

// EventError is the payload of an error event.
type EventError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Progress is the payload of a progress event.
type Progress struct {
	Plan           any    `json:"plan"`
	CurrentStageID string `json:"current_stage_id"`
	CurrentTask    string `json:"currentTask"`
}

// Emitter receives events in emission order. Implementations must not block
// indefinitely; there is no backpressure.
type Emitter func(Event)

// Processor turns a sequence of reasoning chunks into events as they arrive.
// It tracks the previously seen thought so only the new suffix is emitted,
// and deduplicates progress steps.
type Processor struct {
	emit           Emitter
	plan           any
	currentStageID string

	prevThought string
	lastStep    string
	final       ReasoningChunk
	seen        bool
}

// NewProcessor creates a processor bound to an emitter and the current plan
// snapshot.
func NewProcessor(emit Emitter, plan any, currentStageID string) *Processor {
	return &Processor{
		emit:           emit,
		plan:           plan,
		currentStageID: currentStageID,
	}
}

// Observe processes one chunk, emitting a text delta for the thought
// extension and a progress event when the reported step changes.
func (p *Processor) Observe(chunk ReasoningChunk) {
	if len(chunk.Thought) > len(p.prevThought) {
		p.emit(Event{Type: TypeTextDelta, Delta: chunk.Thought[len(p.prevThought):]})
		p.prevThought = chunk.Thought
	}

	if chunk.ProgressStep != "" && chunk.ProgressStep != p.lastStep {
		p.emit(Event{
			Type: TypeProgress,
			Progress: &Progress{
				Plan:           p.plan,
				CurrentStageID: p.currentStageID,
				CurrentTask:    chunk.ProgressStep,
			},
		})
		p.lastStep = chunk.ProgressStep
	}

	p.final = chunk
	p.seen = true
}

// Final returns the last observed chunk verbatim, or the zero chunk when
// nothing was observed.
func (p *Processor) Final() ReasoningChunk {
	return p.final
}

// Process consumes a finite sequence of reasoning chunks, emitting a text
// delta for each thought extension and a progress event whenever the reported
// step changes. It returns the final chunk verbatim; for an empty sequence the
// zero chunk is returned and nothing is emitted.
//
// Concatenating all emitted deltas in order reconstructs the final thought
// exactly.
func Process(chunks []ReasoningChunk, emit Emitter, plan any, currentStageID string) ReasoningChunk {
	p := NewProcessor(emit, plan, currentStageID)
	for _, chunk := range chunks {
		p.Observe(chunk)
	}
	return p.Final()
}
