// Package artifact defines the typed structured documents built incrementally
// across workflow stages, and the patch engine that merges partial updates
// into them without losing prior fields.
package artifact

// Type identifies the shape of a structured artifact.
type Type string

const (
	// TypeRequirement is the clarified-requirements document.
	TypeRequirement Type = "requirement"
	// TypeStrategy is the test-strategy document.
	TypeStrategy Type = "strategy"
	// TypeCases is the test-cases document.
	TypeCases Type = "cases"
	// TypeReviewRecord is the review-record document.
	TypeReviewRecord Type = "review_record"
)

// IsValid reports whether t is a known artifact type.
func (t Type) IsValid() bool {
	switch t {
	case TypeRequirement, TypeStrategy, TypeCases, TypeReviewRecord:
		return true
	}
	return false
}

// String returns the type as a string.
func (t Type) String() string {
	return string(t)
}

// Requirement is the canonical shape of a requirement artifact. Artifacts are
// stored and patched as generic mappings; this struct documents the schema and
// backs the structured-output tool definition.
type Requirement struct {
	Scope         []string          `json:"scope"`
	OutOfScope    []string          `json:"out_of_scope"`
	Features      []Feature         `json:"features"`
	Rules         []Rule            `json:"rules"`
	FlowMermaid   string            `json:"flow_mermaid"`
	Assumptions   []string          `json:"assumptions"`
	NFR           map[string]string `json:"nfr"`
	OpenQuestions []Question        `json:"open_questions"`
	Confirmed     []Confirmation    `json:"confirmed"`
}

// Feature is one feature under review or test design.
type Feature struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

// Rule is one business rule extracted from the requirement.
type Rule struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is an open question attached to an artifact.
type Question struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"` // "open", "confirmed", "rejected"
}

// Confirmation is a resolved question recorded on the artifact.
type Confirmation struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Strategy is the canonical shape of a test-strategy artifact.
type Strategy struct {
	Objectives []string        `json:"objectives"`
	Approach   string          `json:"approach"`
	Risks      []Risk          `json:"risks"`
	Priorities []PriorityGroup `json:"priorities"`
	Coverage   []CoverageItem  `json:"coverage"`
}

// Risk is one identified testing risk.
type Risk struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Severity   string `json:"severity"`
	Mitigation string `json:"mitigation"`
}

// PriorityGroup buckets features by test priority.
type PriorityGroup struct {
	ID       string   `json:"id"`
	Level    string   `json:"level"` // "p0", "p1", "p2"
	Features []string `json:"features"`
}

// CoverageItem maps one scope area to its planned test kinds.
type CoverageItem struct {
	ID    string   `json:"id"`
	Area  string   `json:"area"`
	Kinds []string `json:"kinds"` // "functional", "boundary", "negative", ...
}

// Cases is the canonical shape of a test-cases artifact.
type Cases struct {
	Cases []TestCase `json:"cases"`
}

// TestCase is one designed test case.
type TestCase struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Preconditions []string `json:"preconditions"`
	Steps         []string `json:"steps"`
	Expected      string   `json:"expected"`
	Priority      string   `json:"priority"`
	Feature       string   `json:"feature"`
}

// ReviewRecord is the canonical shape of a review-record artifact.
type ReviewRecord struct {
	Summary    string          `json:"summary"`
	Findings   []ReviewFinding `json:"findings"`
	Verdict    string          `json:"verdict"` // "pass", "pass_with_notes", "rework"
	ActionItems []ActionItem   `json:"action_items"`
}

// ReviewFinding is one issue raised during review.
type ReviewFinding struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Severity string `json:"severity"`
	Status   string `json:"status"` // "open", "accepted", "resolved"
}

// ActionItem is one follow-up recorded in a review.
type ActionItem struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Owner string `json:"owner"`
}
