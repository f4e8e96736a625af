// Package model provides capability-based model selection for conversation
// nodes. Instead of hardcoding model names, nodes specify capabilities
// (routing, reasoning, artifact) and the registry resolves them to available
// endpoints with fallback chains.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityRouting is for fast intent classification of user messages.
	CapabilityRouting Capability = "routing"

	// CapabilityReasoning is for streamed stage reasoning and dialogue.
	CapabilityReasoning Capability = "reasoning"

	// CapabilityArtifact is for structured artifact patch generation.
	CapabilityArtifact Capability = "artifact"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityRouting, CapabilityReasoning, CapabilityArtifact:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for
// invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
