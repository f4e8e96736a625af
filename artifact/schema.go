package artifact

// UpdateToolName is the tool the artifact node exposes to the model for
// structured artifact updates.
const UpdateToolName = "update_structured_artifact"

// UpdateParams are the arguments of an update_structured_artifact tool call.
// Content is a partial patch merged into the existing artifact.
type UpdateParams struct {
	Key          string         `json:"key"`
	ArtifactType Type           `json:"artifact_type"`
	Content      map[string]any `json:"content"`
}

// UpdateToolSchema returns the JSON schema for the update tool parameters,
// with Content constrained to the given artifact type.
func UpdateToolSchema(t Type) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Artifact key from the stage template",
			},
			"artifact_type": map[string]any{
				"type": "string",
				"enum": []string{t.String()},
			},
			"content": contentSchema(t),
		},
		"required": []string{"key", "artifact_type", "content"},
	}
}

// contentSchema returns the schema for the patch body of one artifact type.
// All fields are optional: a patch carries only what changed.
func contentSchema(t Type) map[string]any {
	switch t {
	case TypeRequirement:
		return objectSchema(map[string]any{
			"scope":        stringListSchema(),
			"out_of_scope": stringListSchema(),
			"features": idListSchema(map[string]any{
				"name":   map[string]any{"type": "string"},
				"detail": map[string]any{"type": "string"},
			}),
			"rules": idListSchema(map[string]any{
				"text": map[string]any{"type": "string"},
			}),
			"flow_mermaid": map[string]any{"type": "string"},
			"assumptions":  stringListSchema(),
			"nfr": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"open_questions": idListSchema(map[string]any{
				"text":   map[string]any{"type": "string"},
				"status": map[string]any{"type": "string", "enum": []string{"open", "confirmed", "rejected"}},
			}),
			"confirmed": idListSchema(map[string]any{
				"text": map[string]any{"type": "string"},
			}),
		})
	case TypeStrategy:
		return objectSchema(map[string]any{
			"objectives": stringListSchema(),
			"approach":   map[string]any{"type": "string"},
			"risks": idListSchema(map[string]any{
				"text":       map[string]any{"type": "string"},
				"severity":   map[string]any{"type": "string"},
				"mitigation": map[string]any{"type": "string"},
			}),
			"priorities": idListSchema(map[string]any{
				"level":    map[string]any{"type": "string", "enum": []string{"p0", "p1", "p2"}},
				"features": stringListSchema(),
			}),
			"coverage": idListSchema(map[string]any{
				"area":  map[string]any{"type": "string"},
				"kinds": stringListSchema(),
			}),
		})
	case TypeCases:
		return objectSchema(map[string]any{
			"cases": idListSchema(map[string]any{
				"title":         map[string]any{"type": "string"},
				"preconditions": stringListSchema(),
				"steps":         stringListSchema(),
				"expected":      map[string]any{"type": "string"},
				"priority":      map[string]any{"type": "string"},
				"feature":       map[string]any{"type": "string"},
			}),
		})
	case TypeReviewRecord:
		return objectSchema(map[string]any{
			"summary": map[string]any{"type": "string"},
			"findings": idListSchema(map[string]any{
				"text":     map[string]any{"type": "string"},
				"severity": map[string]any{"type": "string"},
				"status":   map[string]any{"type": "string", "enum": []string{"open", "accepted", "resolved"}},
			}),
			"verdict": map[string]any{"type": "string", "enum": []string{"pass", "pass_with_notes", "rework"}},
			"action_items": idListSchema(map[string]any{
				"text":  map[string]any{"type": "string"},
				"owner": map[string]any{"type": "string"},
			}),
		})
	default:
		// Unknown types accept any object so a misconfigured workflow fails
		// at merge time, not schema-build time.
		return map[string]any{"type": "object"}
	}
}

func objectSchema(props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

func stringListSchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
}

// idListSchema builds the schema for an id-keyed list. Every element must
// carry an id so the merge engine can reconcile.
func idListSchema(props map[string]any) map[string]any {
	full := map[string]any{
		"id": map[string]any{"type": "string"},
	}
	for k, v := range props {
		full[k] = v
	}
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":       "object",
			"properties": full,
			"required":   []string{"id"},
		},
	}
}
