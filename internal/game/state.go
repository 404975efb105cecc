package game

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// CloneState deep-copies a state mapping. Values are restricted to the JSON
// shapes a generator or campaign file can produce: scalars, []any, and
// map[string]any.
func CloneState(state map[string]any) map[string]any {
	if state == nil {
		return map[string]any{}
	}
	clone := make(map[string]any, len(state))
	for key, value := range state {
		clone[key] = cloneValue(value)
	}
	return clone
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for key, elem := range v {
			m[key] = cloneValue(elem)
		}
		return m
	case []any:
		list := make([]any, len(v))
		for i, elem := range v {
			list[i] = cloneValue(elem)
		}
		return list
	case []string:
		list := make([]any, len(v))
		for i, elem := range v {
			list[i] = elem
		}
		return list
	default:
		return v
	}
}

// ValueEqual compares two state values structurally. Mapping keys are
// order-insensitive, lists are order-sensitive, and numeric values compare
// by magnitude so an int64 written by the campaign compiler equals the
// float64 the same number decodes to from JSON.
func ValueEqual(a, b any) bool {
	an, aok := numeric(a)
	bn, bok := numeric(b)
	if aok && bok {
		return an == bn
	}
	if aok != bok {
		return false
	}

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, elem := range av {
			other, ok := bv[key]
			if !ok || !ValueEqual(elem, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, elem := range av {
			if !ValueEqual(elem, bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Stringify renders a state value for loose comparisons: booleans and
// numbers become their canonical text form, everything else goes through
// fmt. Integral floats print without a trailing ".0" so JSON-decoded
// numbers compare cleanly against campaign literals.
func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// StateDiff is a structural delta between two committed versions of a
// session's state. Applying Changed and Removed to the snapshot at
// FromVersion reproduces the snapshot at ToVersion exactly.
//
// Full is set when the base version fell out of snapshot retention; Changed
// then holds the entire current state and Removed is empty.
type StateDiff struct {
	FromVersion int64          `json:"from_version"`
	ToVersion   int64          `json:"to_version"`
	Full        bool           `json:"full,omitempty"`
	Changed     map[string]any `json:"changed,omitempty"`
	Removed     []string       `json:"removed,omitempty"`
}

// Empty reports whether the diff carries no changes.
func (d StateDiff) Empty() bool {
	return !d.Full && len(d.Changed) == 0 && len(d.Removed) == 0
}

// DiffStates computes the structural delta from base to current.
func DiffStates(base, current map[string]any) (changed map[string]any, removed []string) {
	changed = map[string]any{}
	for key, value := range current {
		old, ok := base[key]
		if !ok || !ValueEqual(old, value) {
			changed[key] = cloneValue(value)
		}
	}
	for key := range base {
		if _, ok := current[key]; !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return changed, removed
}

// ApplyDiff applies a diff to a base state and returns the resulting state.
// The base is not mutated. For a Full diff the result is exactly Changed.
func ApplyDiff(base map[string]any, diff StateDiff) map[string]any {
	if diff.Full {
		return CloneState(diff.Changed)
	}
	result := CloneState(base)
	for key, value := range diff.Changed {
		result[key] = cloneValue(value)
	}
	for _, key := range diff.Removed {
		delete(result, key)
	}
	return result
}

// StringList coerces a state value into a []string when it holds a list of
// strings (either decoded JSON []any or a native []string). Non-string
// elements are rendered with Stringify.
func StringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		list := make([]string, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				s = Stringify(elem)
			}
			list[i] = s
		}
		return list, true
	default:
		return nil, false
	}
}

// FoldEqual compares two strings case-insensitively after trimming.
func FoldEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
