// Package graph runs one conversation turn as a small directed graph of
// nodes: intent routing, clarification, streamed reasoning and artifact
// update. State is checkpointed per thread between nodes.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/workflow"
)

// ClarificationStatus is the lifecycle of a pending clarification.
type ClarificationStatus string

const (
	ClarificationOpen      ClarificationStatus = "open"
	ClarificationConfirmed ClarificationStatus = "confirmed"
	ClarificationRejected  ClarificationStatus = "rejected"
)

// Message is one conversation turn entry.
type Message struct {
	// Role is "user", "assistant" or "tool".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// ToolCalls are tool invocations attached to an assistant message.
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`

	// ToolResult is the result payload of a tool message.
	ToolResult string `json:"tool_result,omitempty"`
}

// Clarification is one open question tracked across turns.
type Clarification struct {
	ID     string              `json:"id"`
	Text   string              `json:"text"`
	Status ClarificationStatus `json:"status"`
}

// ConsensusItem is one confirmed fact recorded from clarification turns.
type ConsensusItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// State is the conversation state of one thread. It is mutated only inside
// the graph runtime; everything else sees snapshots.
type State struct {
	Messages []Message `json:"messages"`

	// CurrentWorkflow is the active workflow id, or "".
	CurrentWorkflow string `json:"current_workflow,omitempty"`

	// Plan is the stage sequence of the active workflow with statuses.
	Plan []workflow.PlanStage `json:"plan,omitempty"`

	// CurrentStageID references the single active plan entry.
	CurrentStageID string `json:"current_stage_id,omitempty"`

	// Artifacts maps artifact keys to their structured content.
	Artifacts map[string]map[string]any `json:"artifacts,omitempty"`

	// ArtifactTemplates declares which keys the active workflow may write.
	ArtifactTemplates []workflow.ArtifactTemplate `json:"artifact_templates,omitempty"`

	// PendingClarifications are open questions mirrored from the clarify
	// stage artifact.
	PendingClarifications []Clarification `json:"pending_clarifications,omitempty"`

	// ConsensusItems are confirmed facts.
	ConsensusItems []ConsensusItem `json:"consensus_items,omitempty"`

	// Clarification is the transient next question to emit, if any.
	Clarification string `json:"clarification,omitempty"`
}

// NewState creates empty conversation state.
func NewState() *State {
	return &State{Artifacts: map[string]map[string]any{}}
}

// Clone returns a deep copy. State is JSON-shaped throughout, so a marshal
// round-trip is an exact copy.
func (s *State) Clone() (*State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var cp State
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	if cp.Artifacts == nil {
		cp.Artifacts = map[string]map[string]any{}
	}
	return &cp, nil
}

// Validate checks the structural invariants. A violation is a bug in a node,
// not a user error.
func (s *State) Validate() error {
	if s.CurrentWorkflow != "" {
		active := -1
		for i, ps := range s.Plan {
			switch ps.Status {
			case workflow.StageActive:
				if active >= 0 {
					return fmt.Errorf("plan has more than one active stage (%s and %s)", s.Plan[active].ID, ps.ID)
				}
				active = i
			case workflow.StageCompleted:
				if active >= 0 {
					return fmt.Errorf("completed stage %s follows the active stage", ps.ID)
				}
			case workflow.StagePending:
				if active < 0 {
					return fmt.Errorf("pending stage %s precedes the active stage", ps.ID)
				}
			default:
				return fmt.Errorf("stage %s has unknown status %q", ps.ID, ps.Status)
			}
		}
		if active < 0 {
			return fmt.Errorf("workflow %s has no active stage", s.CurrentWorkflow)
		}
		if s.CurrentStageID != s.Plan[active].ID {
			return fmt.Errorf("current_stage_id %q does not match active stage %q", s.CurrentStageID, s.Plan[active].ID)
		}
	}

	declared := map[string]bool{}
	for _, tpl := range s.ArtifactTemplates {
		declared[tpl.ArtifactKey] = true
	}
	for key := range s.Artifacts {
		if !declared[key] {
			return fmt.Errorf("artifact key %q is not declared in artifact_templates", key)
		}
	}

	consensus := map[string]bool{}
	for _, item := range s.ConsensusItems {
		consensus[item.ID] = true
	}
	for _, pc := range s.PendingClarifications {
		if pc.Status == ClarificationConfirmed && !consensus[pc.ID] {
			return fmt.Errorf("confirmed clarification %q has no consensus item", pc.ID)
		}
	}

	return nil
}

// CurrentStage resolves the active stage template from the registry, or nil
// when no workflow is running.
func (s *State) CurrentStage(workflows *workflow.Registry) (*workflow.Workflow, *workflow.Stage, error) {
	if s.CurrentWorkflow == "" {
		return nil, nil, nil
	}
	wf, err := workflows.Get(s.CurrentWorkflow)
	if err != nil {
		return nil, nil, err
	}
	stage, err := wf.Stage(s.CurrentStageID)
	if err != nil {
		return nil, nil, err
	}
	return wf, stage, nil
}

// LLMMessages converts conversation messages to adapter messages, dropping
// tool bookkeeping the providers do not need.
func (s *State) LLMMessages() []llm.Message {
	out := make([]llm.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == "tool" {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// ArtifactsSummary renders a one-line-per-artifact summary for prompts.
func (s *State) ArtifactsSummary() string {
	if len(s.Artifacts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, tpl := range s.ArtifactTemplates {
		content, ok := s.Artifacts[tpl.ArtifactKey]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s): %d fields\n", tpl.ArtifactKey, tpl.Name, len(content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Input is the envelope a caller submits for one turn.
type Input struct {
	Messages []InputMessage `json:"messages"`
}

// InputMessage is one submitted message. Content and Parts are alternatives;
// a parts array is flattened by concatenating its text parts in order.
type InputMessage struct {
	Role    string      `json:"role"`
	Content string      `json:"content,omitempty"`
	Parts   []InputPart `json:"parts,omitempty"`
}

// InputPart is one piece of a multi-part message.
type InputPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Flatten returns the effective text of the message.
func (m InputMessage) Flatten() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Normalize converts the envelope to state messages. Messages without a role
// default to user.
func (in Input) Normalize() []Message {
	out := make([]Message, 0, len(in.Messages))
	for _, m := range in.Messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		out = append(out, Message{Role: role, Content: m.Flatten()})
	}
	return out
}
