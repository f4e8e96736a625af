package artifact_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisahq/lisa/artifact"
)

// mustJSON decodes a JSON literal into the generic mapping shape the engine
// operates on.
func mustJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestMerge_ReplaceByID(t *testing.T) {
	original := mustJSON(t, `{"items": [{"id": "1", "val": "old"}, {"id": "2", "val": "keep"}]}`)
	patch := mustJSON(t, `{"items": [{"id": "1", "val": "new"}]}`)

	merged, err := artifact.Merge(original, patch)
	require.NoError(t, err)

	want := mustJSON(t, `{"items": [{"id": "1", "val": "new"}, {"id": "2", "val": "keep"}]}`)
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_AppendNewID(t *testing.T) {
	original := mustJSON(t, `{"items": [{"id": "1", "val": "a"}]}`)
	patch := mustJSON(t, `{"items": [{"id": "2", "val": "b"}]}`)

	merged, err := artifact.Merge(original, patch)
	require.NoError(t, err)

	want := mustJSON(t, `{"items": [{"id": "1", "val": "a"}, {"id": "2", "val": "b"}]}`)
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_NonMappingPatch(t *testing.T) {
	original := mustJSON(t, `{"items": [{"id": "1", "val": "a"}]}`)

	merged, err := artifact.Merge(original, "not a json")
	require.ErrorIs(t, err, artifact.ErrPatchNotMapping)

	// Fail-soft: the original comes back unchanged.
	want := mustJSON(t, `{"items": [{"id": "1", "val": "a"}]}`)
	assert.Equal(t, want, merged)
}

func TestMerge_EmptyPatchIsDeepClone(t *testing.T) {
	original := mustJSON(t, `{"a": {"b": [1, 2]}, "c": "x"}`)

	merged, err := artifact.Merge(original, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, original, merged)

	// Mutating the result must not leak back into the original.
	merged["a"].(map[string]any)["b"].([]any)[0] = float64(99)
	assert.Equal(t, float64(1), original["a"].(map[string]any)["b"].([]any)[0])
}

func TestMerge_SelfMergeIsIdentity(t *testing.T) {
	original := mustJSON(t, `{
		"scope": ["login"],
		"features": [{"id": "f1", "name": "login", "detail": "basic auth"}],
		"nfr": {"performance": "p95 < 200ms"}
	}`)

	merged, err := artifact.Merge(original, original)
	require.NoError(t, err)
	assert.Equal(t, original, merged)
}

func TestMerge_DoesNotMutateOriginal(t *testing.T) {
	original := mustJSON(t, `{"items": [{"id": "1", "val": "a"}], "nested": {"x": 1}}`)
	snapshot := mustJSON(t, `{"items": [{"id": "1", "val": "a"}], "nested": {"x": 1}}`)
	patch := mustJSON(t, `{"items": [{"id": "1", "val": "changed"}], "nested": {"x": 2}}`)

	_, err := artifact.Merge(original, patch)
	require.NoError(t, err)
	assert.Equal(t, snapshot, original)
}

func TestMerge_NestedMappings(t *testing.T) {
	original := mustJSON(t, `{"nfr": {"performance": "fast", "security": "tls"}}`)
	patch := mustJSON(t, `{"nfr": {"performance": "p95 < 200ms"}}`)

	merged, err := artifact.Merge(original, patch)
	require.NoError(t, err)

	want := mustJSON(t, `{"nfr": {"performance": "p95 < 200ms", "security": "tls"}}`)
	assert.Equal(t, want, merged)
}

func TestMerge_NullReplacesSlot(t *testing.T) {
	original := mustJSON(t, `{"flow_mermaid": "graph TD"}`)
	patch := mustJSON(t, `{"flow_mermaid": null}`)

	merged, err := artifact.Merge(original, patch)
	require.NoError(t, err)
	assert.Contains(t, merged, "flow_mermaid")
	assert.Nil(t, merged["flow_mermaid"])
}

func TestMerge_OpaqueListReplaced(t *testing.T) {
	// Lists whose elements lack ids are replaced wholesale.
	original := mustJSON(t, `{"scope": ["a", "b"]}`)
	patch := mustJSON(t, `{"scope": ["c"]}`)

	merged, err := artifact.Merge(original, patch)
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, merged["scope"])
}

func TestMerge_PatchOnlyKeyInserted(t *testing.T) {
	original := mustJSON(t, `{"scope": ["login"]}`)
	patch := mustJSON(t, `{"assumptions": ["users exist"]}`)

	merged, err := artifact.Merge(original, patch)
	require.NoError(t, err)
	assert.Equal(t, []any{"login"}, merged["scope"])
	assert.Equal(t, []any{"users exist"}, merged["assumptions"])
}

func TestMerge_IDTypeCollision(t *testing.T) {
	original := mustJSON(t, `{"items": [{"id": "1", "val": "a"}]}`)
	patch := mustJSON(t, `{"items": [{"id": 2, "val": "b"}]}`)

	_, err := artifact.Merge(original, patch)
	var collision *artifact.IDCollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "items", collision.Key)
}

func TestMerge_DuplicateIDInPatch(t *testing.T) {
	original := mustJSON(t, `{"items": [{"id": "1", "val": "a"}]}`)
	patch := mustJSON(t, `{"items": [{"id": "2", "val": "b"}, {"id": "2", "val": "c"}]}`)

	_, err := artifact.Merge(original, patch)
	var collision *artifact.IDCollisionError
	require.ErrorAs(t, err, &collision)
}

func TestMerge_NilOriginal(t *testing.T) {
	patch := mustJSON(t, `{"scope": ["login"]}`)

	merged, err := artifact.Merge(nil, patch)
	require.NoError(t, err)
	assert.Equal(t, []any{"login"}, merged["scope"])
}

func TestMerge_PatchSeedsEmptyIDList(t *testing.T) {
	original := mustJSON(t, `{"items": []}`)
	patch := mustJSON(t, `{"items": [{"id": "1", "val": "a"}]}`)

	merged, err := artifact.Merge(original, patch)
	require.NoError(t, err)
	assert.Len(t, merged["items"], 1)
}

func TestUpdateToolSchema_KnownTypes(t *testing.T) {
	for _, typ := range []artifact.Type{
		artifact.TypeRequirement,
		artifact.TypeStrategy,
		artifact.TypeCases,
		artifact.TypeReviewRecord,
	} {
		schema := artifact.UpdateToolSchema(typ)
		require.Equal(t, "object", schema["type"], "type %s", typ)

		props, ok := schema["properties"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, props, "key")
		assert.Contains(t, props, "artifact_type")
		assert.Contains(t, props, "content")
	}
}
