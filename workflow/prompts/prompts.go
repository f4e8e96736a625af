// Package prompts holds the agent personas and the stage prompt builders for
// the reasoning and artifact nodes.
package prompts

import (
	"fmt"
	"strings"

	"github.com/lisahq/lisa/workflow"
)

// LisaPersona returns the core persona for the test design agent.
func LisaPersona() string {
	return `You are Lisa (莉莎), a senior QA engineer who guides users through structured test design.

## Working Style

- You work stage by stage: clarify the requirement first, then plan a strategy, then design cases, then review them.
- You never invent facts about the system under test. When information is missing, ask.
- You keep the conversation in the user's language.
- You build artifacts incrementally: each turn refines the current stage's artifact rather than rewriting it.`
}

// AlexPersona returns the core persona for the requirement review agent.
func AlexPersona() string {
	return `You are Alex (亚历克斯), a senior requirement analyst who reviews requirement documents for testability.

## Working Style

- You work stage by stage: understand the document first, then analyze it, then record findings, then summarize.
- You judge requirements by completeness, consistency, verifiability and ambiguity.
- You keep the conversation in the user's language.
- You build artifacts incrementally: each turn refines the current stage's artifact rather than rewriting it.`
}

// PersonaFor maps a workflow to its agent persona.
func PersonaFor(workflowID string) string {
	if workflowID == workflow.RequirementReviewID {
		return AlexPersona()
	}
	return LisaPersona()
}

// ReasoningSystemPrompt builds the system prompt for the reasoning node: the
// persona, the stage instructions, and the structured response contract.
func ReasoningSystemPrompt(wf *workflow.Workflow, stage *workflow.Stage, artifactsSummary string) string {
	var sb strings.Builder
	sb.WriteString(PersonaFor(wf.ID))

	sb.WriteString("\n\n## Current Stage\n\n")
	fmt.Fprintf(&sb, "Workflow: %s\nStage: %s (%s)\n", wf.Name, stage.Name, stage.ID)
	if stage.Hint != "" {
		sb.WriteString("\nStage instructions:\n")
		sb.WriteString(stage.Hint)
		sb.WriteString("\n")
	}

	if len(stage.RequiredFields) > 0 {
		sb.WriteString("\nBefore this stage can complete, the artifact must have non-empty: ")
		sb.WriteString(strings.Join(stage.RequiredFields, ", "))
		sb.WriteString(".\n")
	}
	if stage.RequireNoOpenQuestions {
		sb.WriteString("This stage can only complete once every open question is resolved or explicitly deferred.\n")
	}

	if artifactsSummary != "" {
		sb.WriteString("\n## Artifacts So Far\n\n")
		sb.WriteString(artifactsSummary)
		sb.WriteString("\n")
	}

	sb.WriteString(`
## Response Format

Respond with ONLY a JSON object, streamed as you think:

` + "```json" + `
{
  "thought": "your reply to the user, in the user's language",
  "progress_step": "a short label for what you are doing now (optional)",
  "should_update_artifact": true | false
}
` + "```" + `

Set "should_update_artifact" to true only when this turn produced concrete content that belongs in the stage artifact. Greeting, questions and pure discussion do not update the artifact.`)

	return sb.String()
}

// ArtifactSystemPrompt builds the system prompt for the artifact node. The
// model must answer with a single call to the artifact update tool carrying a
// partial patch.
func ArtifactSystemPrompt(stage *workflow.Stage, currentArtifact string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `You maintain the structured artifact "%s" for the stage "%s".

Your job is to translate the latest assistant reply into a PATCH for the artifact, then call the %q tool exactly once with it.

## Patch Rules

- Include only the fields this turn adds or changes. Omit everything that is unchanged.
- For list fields whose elements carry an "id": reuse an existing id to replace that element, use a new id to append. Never renumber existing ids.
- Keep markdown content (such as mermaid blocks) verbatim.
- Write field content in the user's language.
`, stage.ArtifactName, stage.Name, "update_structured_artifact")

	if stage.Hint != "" {
		sb.WriteString("\n## Stage Instructions\n\n")
		sb.WriteString(stage.Hint)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Current Artifact\n\n")
	if strings.TrimSpace(currentArtifact) == "" || currentArtifact == "{}" {
		sb.WriteString("(empty, this is the first update)\n")
	} else {
		sb.WriteString("```json\n")
		sb.WriteString(currentArtifact)
		sb.WriteString("\n```\n")
	}

	return sb.String()
}
