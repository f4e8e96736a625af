// Package workflow defines the catalogue of guided workflows: ordered stages,
// their artifact templates, and the plan structure the conversation state
// tracks. The registry is pure data; behavior lives in the graph nodes.
package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lisahq/lisa/artifact"
)

// Workflow ids for the built-in catalogue.
const (
	TestDesignID        = "test_design"
	RequirementReviewID = "requirement_review"
)

// Workflow is an ordered sequence of stages with associated artifacts.
type Workflow struct {
	// ID is the stable workflow identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the user-facing workflow name.
	Name string `json:"name" yaml:"name"`

	// Intent is the router intent that starts this workflow.
	Intent string `json:"intent" yaml:"intent"`

	// Stages in execution order.
	Stages []Stage `json:"stages" yaml:"stages"`
}

// Stage is one step of a workflow with an optional artifact template and the
// hard requirements that gate promotion to the next stage.
type Stage struct {
	// ID is unique within the workflow.
	ID string `json:"id" yaml:"id"`

	// Name is the user-facing stage name.
	Name string `json:"name" yaml:"name"`

	// ArtifactKey is the state key of the stage artifact, empty when the
	// stage produces none.
	ArtifactKey string `json:"artifact_key,omitempty" yaml:"artifact_key,omitempty"`

	// ArtifactName is the user-facing artifact name.
	ArtifactName string `json:"artifact_name,omitempty" yaml:"artifact_name,omitempty"`

	// ArtifactType selects the artifact schema.
	ArtifactType artifact.Type `json:"artifact_type,omitempty" yaml:"artifact_type,omitempty"`

	// Hint tells the artifact node which fields to fill at this stage.
	Hint string `json:"hint,omitempty" yaml:"hint,omitempty"`

	// RequiredFields are artifact fields that must be non-empty before the
	// stage may complete.
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`

	// RequireNoOpenQuestions gates promotion on the artifact's open_questions
	// list being empty.
	RequireNoOpenQuestions bool `json:"require_no_open_questions,omitempty" yaml:"require_no_open_questions,omitempty"`
}

// StageStatus is the lifecycle status of a plan entry.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
)

// PlanStage is one entry of a running plan: a stage plus its status.
type PlanStage struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Status       StageStatus `json:"status"`
	ArtifactKey  string      `json:"artifact_key,omitempty"`
	ArtifactName string      `json:"artifact_name,omitempty"`
}

// ArtifactTemplate declares one artifact a workflow will build.
type ArtifactTemplate struct {
	StageID     string `json:"stage_id"`
	ArtifactKey string `json:"artifact_key"`
	Name        string `json:"name"`
}

// Registry is the workflow catalogue. Immutable after load except through
// ApplyOverlay, which only refines existing entries.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewRegistry creates a registry containing the built-in workflows.
func NewRegistry() *Registry {
	r := &Registry{workflows: map[string]*Workflow{}}
	for _, wf := range builtins() {
		r.workflows[wf.ID] = wf
	}
	return r
}

// Get returns a workflow by id.
func (r *Registry) Get(id string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("unknown workflow: %s", id)
	}
	return wf, nil
}

// ForIntent returns the workflow started by a router intent, or nil.
func (r *Registry) ForIntent(intent string) *Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, wf := range r.workflows {
		if wf.Intent == intent {
			return wf
		}
	}
	return nil
}

// List returns all workflow ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stage returns one stage of a workflow.
func (w *Workflow) Stage(stageID string) (*Stage, error) {
	for i := range w.Stages {
		if w.Stages[i].ID == stageID {
			return &w.Stages[i], nil
		}
	}
	return nil, fmt.Errorf("workflow %s has no stage %s", w.ID, stageID)
}

// NextStage returns the stage following stageID, or nil when stageID is last.
func (w *Workflow) NextStage(stageID string) *Stage {
	for i := range w.Stages {
		if w.Stages[i].ID == stageID && i+1 < len(w.Stages) {
			return &w.Stages[i+1]
		}
	}
	return nil
}

// NewPlan builds a fresh plan for the workflow with the first stage active.
func (w *Workflow) NewPlan() []PlanStage {
	plan := make([]PlanStage, len(w.Stages))
	for i, s := range w.Stages {
		status := StagePending
		if i == 0 {
			status = StageActive
		}
		plan[i] = PlanStage{
			ID:           s.ID,
			Name:         s.Name,
			Status:       status,
			ArtifactKey:  s.ArtifactKey,
			ArtifactName: s.ArtifactName,
		}
	}
	return plan
}

// Templates returns the artifact template declarations of the workflow in
// stage order.
func (w *Workflow) Templates() []ArtifactTemplate {
	var templates []ArtifactTemplate
	for _, s := range w.Stages {
		if s.ArtifactKey == "" {
			continue
		}
		templates = append(templates, ArtifactTemplate{
			StageID:     s.ID,
			ArtifactKey: s.ArtifactKey,
			Name:        s.ArtifactName,
		})
	}
	return templates
}

// builtins returns the built-in workflow catalogue.
func builtins() []*Workflow {
	return []*Workflow{
		{
			ID:     TestDesignID,
			Name:   "测试设计",
			Intent: "START_TEST_DESIGN",
			Stages: []Stage{
				{
					ID:                     "clarify",
					Name:                   "需求澄清",
					ArtifactKey:            "test_design_requirements",
					ArtifactName:           "需求澄清文档",
					ArtifactType:           artifact.TypeRequirement,
					Hint:                   "Fill scope, out_of_scope, features, rules and open_questions. Mark confirmed question ids in confirmed.",
					RequiredFields:         []string{"scope", "features"},
					RequireNoOpenQuestions: true,
				},
				{
					ID:             "strategy",
					Name:           "测试策略",
					ArtifactKey:    "test_design_strategy",
					ArtifactName:   "测试策略文档",
					ArtifactType:   artifact.TypeStrategy,
					Hint:           "Fill objectives, approach, risks, priorities and coverage based on the confirmed requirements.",
					RequiredFields: []string{"objectives", "approach"},
				},
				{
					ID:             "cases",
					Name:           "用例设计",
					ArtifactKey:    "test_design_cases",
					ArtifactName:   "测试用例集",
					ArtifactType:   artifact.TypeCases,
					Hint:           "Fill cases incrementally; keep ids stable across patches so prior cases survive.",
					RequiredFields: []string{"cases"},
				},
				{
					ID:             "review",
					Name:           "用例评审",
					ArtifactKey:    "test_design_review",
					ArtifactName:   "评审记录",
					ArtifactType:   artifact.TypeReviewRecord,
					Hint:           "Fill summary, findings and verdict. Record action_items for rework.",
					RequiredFields: []string{"summary", "verdict"},
				},
			},
		},
		{
			ID:     RequirementReviewID,
			Name:   "需求评审",
			Intent: "START_REQUIREMENT_REVIEW",
			Stages: []Stage{
				{
					ID:                     "clarify",
					Name:                   "需求澄清",
					ArtifactKey:            "req_review_requirements",
					ArtifactName:           "需求梳理文档",
					ArtifactType:           artifact.TypeRequirement,
					Hint:                   "Fill scope, features, rules and open_questions from the requirement document under review.",
					RequiredFields:         []string{"scope", "features"},
					RequireNoOpenQuestions: true,
				},
				{
					ID:             "strategy",
					Name:           "评审策略",
					ArtifactKey:    "req_review_strategy",
					ArtifactName:   "评审策略文档",
					ArtifactType:   artifact.TypeStrategy,
					Hint:           "Fill objectives and approach for the review; risks capture suspected requirement gaps.",
					RequiredFields: []string{"objectives"},
				},
				{
					ID:             "cases",
					Name:           "检查项设计",
					ArtifactKey:    "req_review_cases",
					ArtifactName:   "评审检查项",
					ArtifactType:   artifact.TypeCases,
					Hint:           "Fill cases as concrete review checks against the requirement.",
					RequiredFields: []string{"cases"},
				},
				{
					ID:             "review",
					Name:           "评审结论",
					ArtifactKey:    "req_review_review",
					ArtifactName:   "评审记录",
					ArtifactType:   artifact.TypeReviewRecord,
					Hint:           "Fill summary, findings, verdict and action_items.",
					RequiredFields: []string{"summary", "verdict"},
				},
			},
		},
	}
}
