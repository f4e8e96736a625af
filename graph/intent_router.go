package graph

import (
	"context"

	"github.com/lisahq/lisa/router"
	"github.com/lisahq/lisa/stream"
	"github.com/lisahq/lisa/workflow"
)

// intentRouterNode classifies the latest user message and decides whether the
// turn needs clarification, starts a workflow, or continues the active one.
func intentRouterNode(ctx context.Context, s *State, side *Side) (string, error) {
	_, stage, err := s.CurrentStage(side.Workflows)
	if err != nil {
		return NodeEnd, err
	}
	stageName := ""
	if stage != nil {
		stageName = stage.Name
	}

	result, err := side.Classifier.Classify(ctx, router.Context{
		CurrentWorkflow:  s.CurrentWorkflow,
		CurrentStage:     stageName,
		ArtifactsSummary: s.ArtifactsSummary(),
		Messages:         s.LLMMessages(),
	})
	if err != nil {
		// Routing failures degrade to a default clarification; the turn
		// still ends with an assistant message.
		side.EmitError(stream.ErrKindRouting, err)
		s.Clarification = router.DefaultClarification
		return NodeClarifyIntent, nil
	}

	if result.Clarification != "" {
		s.Clarification = result.Clarification
		return NodeClarifyIntent, nil
	}

	if result.Intent == "" {
		if s.CurrentWorkflow != "" {
			return NodeReasoning, nil
		}
		s.Clarification = router.DefaultClarification
		return NodeClarifyIntent, nil
	}

	wf := side.Workflows.ForIntent(result.Intent)
	if wf == nil {
		s.Clarification = router.DefaultClarification
		return NodeClarifyIntent, nil
	}

	if s.CurrentWorkflow == wf.ID {
		return NodeReasoning, nil
	}

	startWorkflow(s, wf)
	side.Logger.Info("Workflow started",
		"workflow", wf.ID,
		"stage", s.CurrentStageID,
		"confidence", result.Confidence)
	if side.Metrics != nil {
		side.Metrics.WorkflowStartsTotal.WithLabelValues(wf.ID).Inc()
	}
	return NodeReasoning, nil
}

// startWorkflow initializes plan and templates for a workflow, replacing any
// previous one. Artifacts from an earlier workflow are dropped with its
// templates.
func startWorkflow(s *State, wf *workflow.Workflow) {
	s.CurrentWorkflow = wf.ID
	s.Plan = wf.NewPlan()
	s.CurrentStageID = s.Plan[0].ID
	s.ArtifactTemplates = wf.Templates()

	declared := map[string]bool{}
	for _, tpl := range s.ArtifactTemplates {
		declared[tpl.ArtifactKey] = true
	}
	for key := range s.Artifacts {
		if !declared[key] {
			delete(s.Artifacts, key)
		}
	}
}
