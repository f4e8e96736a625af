package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lisahq/lisa/artifact"
	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/stream"
	"github.com/lisahq/lisa/workflow"
	"github.com/lisahq/lisa/workflow/prompts"
)

// artifactNode asks the model for a structured patch via the update tool and
// merges it into the stage artifact. A missing tool call is a no-op; a bad
// patch leaves the artifact untouched.
func artifactNode(ctx context.Context, s *State, side *Side) (string, error) {
	wf, stage, err := s.CurrentStage(side.Workflows)
	if err != nil {
		return NodeEnd, err
	}
	if wf == nil || stage.ArtifactKey == "" {
		return NodeEnd, nil
	}

	current := s.Artifacts[stage.ArtifactKey]
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return NodeEnd, fmt.Errorf("marshal artifact %s: %w", stage.ArtifactKey, err)
	}

	messages := []llm.Message{
		{Role: "system", Content: prompts.ArtifactSystemPrompt(stage, string(currentJSON))},
	}
	messages = append(messages, tail(s.LLMMessages(), recentWindow)...)

	resp, err := side.Adapter.Complete(ctx, llm.Request{
		Capability: "artifact",
		Messages:   messages,
		Tools: []llm.ToolDefinition{{
			Name:        artifact.UpdateToolName,
			Description: "Apply a partial patch to the stage artifact. Include only changed fields.",
			Parameters:  artifact.UpdateToolSchema(stage.ArtifactType),
		}},
		ToolChoice: artifact.UpdateToolName,
	})
	if err != nil {
		return NodeEnd, err
	}

	call := findUpdateCall(resp.ToolCalls)
	if call == nil {
		side.Logger.Debug("Artifact node skipped, no tool call", "stage", stage.ID)
		return NodeEnd, nil
	}

	var params artifact.UpdateParams
	if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
		side.EmitError(stream.ErrKindPatch, fmt.Errorf("malformed tool arguments: %w", err))
		return NodeEnd, nil
	}
	key := params.Key
	if key == "" {
		key = stage.ArtifactKey
	}
	if !s.keyDeclared(key) {
		side.EmitError(stream.ErrKindPatch, fmt.Errorf("artifact key %q is not declared for workflow %s", key, wf.ID))
		return NodeEnd, nil
	}

	merged, err := artifact.Merge(s.Artifacts[key], params.Content)
	if err != nil {
		side.EmitError(stream.ErrKindPatch, err)
		return NodeEnd, nil
	}
	s.Artifacts[key] = merged

	side.Emit(stream.Event{Type: stream.TypeArtifactUpdated, Key: key})
	if side.Metrics != nil {
		side.Metrics.ArtifactUpdatesTotal.WithLabelValues(key).Inc()
	}

	if stage.ArtifactType == artifact.TypeRequirement {
		syncClarifications(s, merged)
	}

	if key == stage.ArtifactKey && stageSatisfied(stage, merged) {
		promoteStage(s, wf, side)
	}

	return NodeEnd, nil
}

// findUpdateCall picks the artifact update call out of a response.
func findUpdateCall(calls []llm.ToolCall) *llm.ToolCall {
	for i := range calls {
		if calls[i].Name == artifact.UpdateToolName {
			return &calls[i]
		}
	}
	return nil
}

func (s *State) keyDeclared(key string) bool {
	for _, tpl := range s.ArtifactTemplates {
		if tpl.ArtifactKey == key {
			return true
		}
	}
	return false
}

// syncClarifications mirrors the requirement artifact's open_questions and
// confirmed lists into the conversation-level clarification tracking.
func syncClarifications(s *State, merged map[string]any) {
	questions, _ := merged["open_questions"].([]any)
	s.PendingClarifications = s.PendingClarifications[:0]
	for _, q := range questions {
		m, ok := q.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		text, _ := m["text"].(string)
		status, _ := m["status"].(string)
		if status == "" {
			status = string(ClarificationOpen)
		}
		s.PendingClarifications = append(s.PendingClarifications, Clarification{
			ID:     id,
			Text:   text,
			Status: ClarificationStatus(status),
		})
	}

	confirmed, _ := merged["confirmed"].([]any)
	have := map[string]bool{}
	for _, item := range s.ConsensusItems {
		have[item.ID] = true
	}
	for _, c := range confirmed {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		text, _ := m["text"].(string)
		if id == "" || have[id] {
			continue
		}
		s.ConsensusItems = append(s.ConsensusItems, ConsensusItem{ID: id, Text: text})
		have[id] = true
	}

	// A confirmed question needs a matching consensus item.
	for _, pc := range s.PendingClarifications {
		if pc.Status != ClarificationConfirmed || have[pc.ID] {
			continue
		}
		s.ConsensusItems = append(s.ConsensusItems, ConsensusItem{ID: pc.ID, Text: pc.Text})
		have[pc.ID] = true
	}
}

// stageSatisfied checks the stage's hard completion requirements against the
// artifact content.
func stageSatisfied(stage *workflow.Stage, content map[string]any) bool {
	for _, field := range stage.RequiredFields {
		if !fieldFilled(content[field]) {
			return false
		}
	}
	if stage.RequireNoOpenQuestions {
		questions, _ := content["open_questions"].([]any)
		for _, q := range questions {
			m, ok := q.(map[string]any)
			if !ok {
				continue
			}
			if status, _ := m["status"].(string); status == "" || status == string(ClarificationOpen) {
				return false
			}
		}
	}
	return true
}

func fieldFilled(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// promoteStage completes the active stage and activates the next one. The
// last stage completing finishes the workflow.
func promoteStage(s *State, wf *workflow.Workflow, side *Side) {
	for i := range s.Plan {
		if s.Plan[i].ID != s.CurrentStageID {
			continue
		}
		s.Plan[i].Status = workflow.StageCompleted
		if i+1 < len(s.Plan) {
			s.Plan[i+1].Status = workflow.StageActive
			s.CurrentStageID = s.Plan[i+1].ID
		} else {
			s.CurrentWorkflow = ""
			s.CurrentStageID = ""
		}
		break
	}

	side.Emit(stream.Event{
		Type: stream.TypeProgress,
		Progress: &stream.Progress{
			Plan:           s.Plan,
			CurrentStageID: s.CurrentStageID,
			CurrentTask:    "",
		},
	})
	side.Logger.Info("Stage promoted",
		"workflow", wf.ID,
		"stage", s.CurrentStageID,
		"finished", s.CurrentWorkflow == "")
}
