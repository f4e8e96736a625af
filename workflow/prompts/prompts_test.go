package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisahq/lisa/workflow"
)

func TestPersonaFor(t *testing.T) {
	assert.Contains(t, PersonaFor(workflow.TestDesignID), "Lisa")
	assert.Contains(t, PersonaFor(workflow.RequirementReviewID), "Alex")
}

func TestReasoningSystemPrompt(t *testing.T) {
	reg := workflow.NewRegistry()
	wf, err := reg.Get(workflow.TestDesignID)
	require.NoError(t, err)
	stage := wf.Stages[0]

	prompt := ReasoningSystemPrompt(wf, &stage, "test_design_requirement: 3 features")

	assert.Contains(t, prompt, "Lisa")
	assert.Contains(t, prompt, stage.Name)
	assert.Contains(t, prompt, `"should_update_artifact"`)
	assert.Contains(t, prompt, "test_design_requirement: 3 features")
	// Structural completion criteria surface in the prompt.
	if len(stage.RequiredFields) > 0 {
		assert.Contains(t, prompt, stage.RequiredFields[0])
	}
}

func TestArtifactSystemPrompt_Empty(t *testing.T) {
	reg := workflow.NewRegistry()
	wf, err := reg.Get(workflow.TestDesignID)
	require.NoError(t, err)
	stage := wf.Stages[0]

	prompt := ArtifactSystemPrompt(&stage, "{}")
	assert.Contains(t, prompt, "update_structured_artifact")
	assert.Contains(t, prompt, "first update")
	assert.False(t, strings.Contains(prompt, "```json\n{}"))
}

func TestArtifactSystemPrompt_WithCurrent(t *testing.T) {
	reg := workflow.NewRegistry()
	wf, err := reg.Get(workflow.TestDesignID)
	require.NoError(t, err)
	stage := wf.Stages[0]

	current := `{"scope": "login"}`
	prompt := ArtifactSystemPrompt(&stage, current)
	assert.Contains(t, prompt, current)
	assert.Contains(t, prompt, "reuse an existing id")
}
