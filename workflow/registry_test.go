package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisahq/lisa/artifact"
)

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{RequirementReviewID, TestDesignID}, r.List())

	wf, err := r.Get(TestDesignID)
	require.NoError(t, err)
	require.Len(t, wf.Stages, 4)
	assert.Equal(t, "clarify", wf.Stages[0].ID)
	assert.Equal(t, "strategy", wf.Stages[1].ID)
	assert.Equal(t, "cases", wf.Stages[2].ID)
	assert.Equal(t, "review", wf.Stages[3].ID)
	assert.Equal(t, "test_design_requirements", wf.Stages[0].ArtifactKey)
	assert.Equal(t, artifact.TypeRequirement, wf.Stages[0].ArtifactType)
}

func TestRegistry_RequirementReviewKeys(t *testing.T) {
	r := NewRegistry()
	wf, err := r.Get(RequirementReviewID)
	require.NoError(t, err)

	for _, stage := range wf.Stages {
		assert.Contains(t, stage.ArtifactKey, "req_review_")
	}
}

func TestRegistry_ForIntent(t *testing.T) {
	r := NewRegistry()

	wf := r.ForIntent("START_TEST_DESIGN")
	require.NotNil(t, wf)
	assert.Equal(t, TestDesignID, wf.ID)

	assert.Nil(t, r.ForIntent("UNKNOWN_INTENT"))
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	assert.Error(t, err)
}

func TestWorkflow_NewPlan(t *testing.T) {
	r := NewRegistry()
	wf, err := r.Get(TestDesignID)
	require.NoError(t, err)

	plan := wf.NewPlan()
	require.Len(t, plan, 4)
	assert.Equal(t, StageActive, plan[0].Status)
	for _, stage := range plan[1:] {
		assert.Equal(t, StagePending, stage.Status)
	}
}

func TestWorkflow_NextStage(t *testing.T) {
	r := NewRegistry()
	wf, err := r.Get(TestDesignID)
	require.NoError(t, err)

	next := wf.NextStage("clarify")
	require.NotNil(t, next)
	assert.Equal(t, "strategy", next.ID)

	assert.Nil(t, wf.NextStage("review"))
	assert.Nil(t, wf.NextStage("missing"))
}

func TestWorkflow_Templates(t *testing.T) {
	r := NewRegistry()
	wf, err := r.Get(TestDesignID)
	require.NoError(t, err)

	templates := wf.Templates()
	require.Len(t, templates, 4)
	assert.Equal(t, "clarify", templates[0].StageID)
	assert.Equal(t, "test_design_requirements", templates[0].ArtifactKey)
}

func TestApplyOverlay(t *testing.T) {
	r := NewRegistry()

	err := r.ApplyOverlay(&Overlay{
		Workflows: []WorkflowOverlay{{
			ID:   TestDesignID,
			Name: "Test Design (tuned)",
			Stages: []StageOverlay{{
				ID:   "clarify",
				Hint: "custom hint",
			}},
		}},
	})
	require.NoError(t, err)

	wf, err := r.Get(TestDesignID)
	require.NoError(t, err)
	assert.Equal(t, "Test Design (tuned)", wf.Name)
	assert.Equal(t, "custom hint", wf.Stages[0].Hint)
	// Untouched fields survive.
	assert.Equal(t, "test_design_requirements", wf.Stages[0].ArtifactKey)
}

func TestApplyOverlay_UnknownIDs(t *testing.T) {
	r := NewRegistry()

	err := r.ApplyOverlay(&Overlay{Workflows: []WorkflowOverlay{{ID: "ghost"}}})
	assert.Error(t, err)

	err = r.ApplyOverlay(&Overlay{
		Workflows: []WorkflowOverlay{{
			ID:     TestDesignID,
			Stages: []StageOverlay{{ID: "ghost"}},
		}},
	})
	assert.Error(t, err)
}

func TestLoadOverlayDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-names.yaml"), []byte(`
workflows:
  - id: test_design
    name: Custom Test Design
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0644))

	overlays, err := LoadOverlayDir(dir)
	require.NoError(t, err)
	require.Len(t, overlays, 1)
	assert.Equal(t, "Custom Test Design", overlays[0].Workflows[0].Name)
}
