// Package dirty implements the snapshot/diff tracker that decides whether an
// in-memory form differs from its last-saved or last-loaded baseline.
package dirty

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Tracker compares a serialized form state against a baseline snapshot.
// Comparison is deep structural equality over the JSON rendering: nil, "",
// and an absent key are three distinct states. Tracker is not safe for
// concurrent use; each form owns one.
type Tracker struct {
	baseline    any
	hasBaseline bool

	dirty  bool
	fields []string
}

// New creates a Tracker with no baseline. Check before Take reports clean.
func New() *Tracker {
	return &Tracker{}
}

// Take deep-clones v via a JSON round-trip and stores it as the baseline.
// Must be called immediately after every successful load or save so that
// dirtiness reflects only post-load/post-save edits.
func (t *Tracker) Take(v any) error {
	clone, err := clone(v)
	if err != nil {
		return fmt.Errorf("dirty: snapshot: %w", err)
	}
	t.baseline = clone
	t.hasBaseline = true
	t.dirty = false
	t.fields = nil
	return nil
}

// Check re-serializes v, diffs it against the baseline, and updates the
// dirty flag and changed-field list. It returns the new dirty flag.
func (t *Tracker) Check(v any) (bool, error) {
	if !t.hasBaseline {
		t.dirty = false
		t.fields = nil
		return false, nil
	}
	current, err := clone(v)
	if err != nil {
		return t.dirty, fmt.Errorf("dirty: serialize: %w", err)
	}

	var changed []string
	diff(t.baseline, current, "", &changed)
	sort.Strings(changed)

	t.fields = changed
	t.dirty = len(changed) > 0
	return t.dirty, nil
}

// Dirty returns the flag computed by the last Check.
func (t *Tracker) Dirty() bool {
	return t.dirty
}

// Fields returns the dot-separated paths of fields changed since the
// baseline, as of the last Check.
func (t *Tracker) Fields() []string {
	return t.fields
}

// IsFieldDirty reports whether the given dot-separated path changed.
func (t *Tracker) IsFieldDirty(path string) bool {
	for _, f := range t.fields {
		if f == path {
			return true
		}
	}
	return false
}

// Reset drops the baseline and clears all state.
func (t *Tracker) Reset() {
	t.baseline = nil
	t.hasBaseline = false
	t.dirty = false
	t.fields = nil
}

// clone normalizes v into JSON-shaped values (map[string]any, []any,
// float64, string, bool, nil), which makes the diff independent of the
// caller's concrete types.
func clone(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// diff walks base and current in parallel, appending the dot path of every
// changed leaf. Added and removed keys count as changes at their own path.
// Arrays are compared wholesale: any difference marks the array's path.
func diff(base, current any, path string, changed *[]string) {
	bm, bOK := base.(map[string]any)
	cm, cOK := current.(map[string]any)
	if bOK && cOK {
		for k, bv := range bm {
			child := joinPath(path, k)
			cv, exists := cm[k]
			if !exists {
				*changed = append(*changed, child)
				continue
			}
			diff(bv, cv, child, changed)
		}
		for k := range cm {
			if _, exists := bm[k]; !exists {
				*changed = append(*changed, joinPath(path, k))
			}
		}
		return
	}

	if !deepEqual(base, current) {
		if path == "" {
			path = "."
		}
		*changed = append(*changed, path)
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// deepEqual compares JSON-shaped values structurally.
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, exists := bv[k]
			if !exists || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
