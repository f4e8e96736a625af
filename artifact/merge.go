package artifact

import (
	"errors"
	"fmt"
)

// Sentinel errors for patch operations.
var (
	// ErrPatchNotMapping indicates the patch was not a JSON object.
	ErrPatchNotMapping = errors.New("patch is not a mapping")
)

// IDCollisionError indicates an id-keyed list could not be reconciled because
// element ids conflicted (duplicate ids within a list, or mixed id types
// between original and patch).
type IDCollisionError struct {
	Key    string
	Detail string
}

func (e *IDCollisionError) Error() string {
	return fmt.Sprintf("id collision in list %q: %s", e.Key, e.Detail)
}

// Merge applies a partial patch to an original artifact and returns the merged
// result. Patches originate from the model and are untrusted: a non-mapping
// patch is rejected and the original is returned unchanged alongside the
// error. The original is never mutated; a new value is always returned on
// success.
//
// Merge rules per key:
//   - present only in original: preserved
//   - present only in patch: inserted
//   - both mappings: recursive merge
//   - both id-keyed lists (every element a mapping with an "id" of one shared
//     type): reconcile by id — matching ids replace in place, new ids append
//     in patch order, unmatched originals are preserved
//   - anything else: patch wins, including explicit null
func Merge(original map[string]any, patch any) (map[string]any, error) {
	patchMap, ok := patch.(map[string]any)
	if !ok {
		return original, fmt.Errorf("%w: got %T", ErrPatchNotMapping, patch)
	}
	if original == nil {
		original = map[string]any{}
	}
	return mergeMaps(original, patchMap, "")
}

// mergeMaps merges patch into a deep clone of original. path tracks the key
// path for error reporting.
func mergeMaps(original, patch map[string]any, path string) (map[string]any, error) {
	merged := make(map[string]any, len(original)+len(patch))
	for k, v := range original {
		merged[k] = deepClone(v)
	}

	for k, pv := range patch {
		keyPath := joinPath(path, k)

		ov, exists := merged[k]
		if !exists {
			merged[k] = deepClone(pv)
			continue
		}

		// Both mappings: recurse.
		if om, ok := ov.(map[string]any); ok {
			if pm, ok := pv.(map[string]any); ok {
				sub, err := mergeMaps(om, pm, keyPath)
				if err != nil {
					return nil, err
				}
				merged[k] = sub
				continue
			}
		}

		// Both id-keyed lists: reconcile by id.
		if ol, ok := ov.([]any); ok {
			if pl, ok := pv.([]any); ok && isIDKeyed(ol) && isIDKeyed(pl) {
				reconciled, err := reconcileByID(ol, pl, keyPath)
				if err != nil {
					return nil, err
				}
				merged[k] = reconciled
				continue
			}
		}

		// Scalar, type mismatch, or opaque list: patch wins.
		merged[k] = deepClone(pv)
	}

	return merged, nil
}

// isIDKeyed reports whether every element of the list is a mapping carrying an
// "id" field. Empty lists participate in id reconciliation so that a patch can
// seed an empty original.
func isIDKeyed(list []any) bool {
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m["id"]; !ok {
			return false
		}
	}
	return true
}

// reconcileByID merges two id-keyed lists. Elements in patch whose id matches
// an original element replace it positionally; new ids append in patch order;
// unmatched originals are preserved in place.
func reconcileByID(original, patch []any, path string) ([]any, error) {
	idType := ""
	index := make(map[any]int, len(original))

	for i, el := range original {
		id := el.(map[string]any)["id"]
		t, err := idTypeName(id)
		if err != nil {
			return nil, &IDCollisionError{Key: path, Detail: err.Error()}
		}
		if idType == "" {
			idType = t
		} else if t != idType {
			return nil, &IDCollisionError{Key: path, Detail: fmt.Sprintf("mixed id types %s and %s", idType, t)}
		}
		if _, dup := index[id]; dup {
			return nil, &IDCollisionError{Key: path, Detail: fmt.Sprintf("duplicate id %v in original", id)}
		}
		index[id] = i
	}

	merged := make([]any, len(original))
	for i, el := range original {
		merged[i] = deepClone(el)
	}

	seen := make(map[any]bool, len(patch))
	for _, el := range patch {
		id := el.(map[string]any)["id"]
		t, err := idTypeName(id)
		if err != nil {
			return nil, &IDCollisionError{Key: path, Detail: err.Error()}
		}
		if idType == "" {
			idType = t
		} else if t != idType {
			return nil, &IDCollisionError{Key: path, Detail: fmt.Sprintf("mixed id types %s and %s", idType, t)}
		}
		if seen[id] {
			return nil, &IDCollisionError{Key: path, Detail: fmt.Sprintf("duplicate id %v in patch", id)}
		}
		seen[id] = true

		if i, ok := index[id]; ok {
			merged[i] = deepClone(el)
		} else {
			merged = append(merged, deepClone(el))
		}
	}

	return merged, nil
}

// idTypeName classifies an id value. Only strings and JSON numbers are
// accepted as ids.
func idTypeName(id any) (string, error) {
	switch id.(type) {
	case string:
		return "string", nil
	case float64, int, int64:
		return "number", nil
	default:
		return "", fmt.Errorf("unsupported id type %T", id)
	}
}

// deepClone returns a deep copy of a JSON-shaped value.
func deepClone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepClone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepClone(e)
		}
		return out
	default:
		return v
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
