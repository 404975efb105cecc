// Package conclude decides whether a session has reached its end state.
//
// Evaluate is a pure function: no I/O, no logging, and identical inputs
// always produce identical results. Callers log the returned error; the
// evaluator itself stays silent so replayed evaluations are bit-identical.
package conclude

import (
	"fmt"
	"strings"

	"github.com/taleweave/taleweave/internal/game"
)

// Evaluate reports whether the session is concluded.
//
// Required plot points gate everything: if any plot point marked required is
// missing from completed, the session is not concluded regardless of
// conditions. With the gate passed, an empty condition list is vacuously
// satisfied. Otherwise every condition must hold, evaluated in declared
// order with a short-circuit on the first failure.
//
// A malformed or unsupported condition fails the whole evaluation and is
// described by the returned error. The error is operator-facing only; the
// session simply continues.
func Evaluate(conditions []game.Condition, points []game.PlotPoint, state map[string]any, completed []string) (bool, error) {
	done := make(map[string]struct{}, len(completed))
	for _, description := range completed {
		done[description] = struct{}{}
	}
	for _, point := range points {
		if !point.Required {
			continue
		}
		if _, ok := done[point.Description]; !ok {
			return false, nil
		}
	}

	if len(conditions) == 0 {
		return true, nil
	}

	for i, condition := range conditions {
		met, err := evaluateCondition(condition, state)
		if err != nil {
			return false, fmt.Errorf("condition %d: %w", i, err)
		}
		if !met {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(condition game.Condition, state map[string]any) (bool, error) {
	switch condition.Kind {
	case game.CondStateKeyEquals:
		return stateKeyEquals(condition, state)
	case game.CondStateKeyExists:
		if condition.Key == "" {
			return false, fmt.Errorf("state_key_exists: key is required")
		}
		_, ok := state[condition.Key]
		return ok, nil
	case game.CondStateKeyContains:
		return stateKeyContains(condition, state)
	case game.CondLocationVisited:
		return locationVisited(condition, state)
	case "":
		return false, fmt.Errorf("malformed condition: missing kind")
	default:
		return false, fmt.Errorf("unsupported condition kind %q", condition.Kind)
	}
}

// stateKeyEquals compares state[key] against the condition value. Boolean
// values on either side are compared case-insensitively as strings so that
// a generator writing "True" still matches a campaign's true.
func stateKeyEquals(condition game.Condition, state map[string]any) (bool, error) {
	if condition.Key == "" {
		return false, fmt.Errorf("state_key_equals: key is required")
	}
	actual, ok := state[condition.Key]
	if !ok {
		return false, nil
	}

	_, actualIsBool := actual.(bool)
	_, wantIsBool := condition.Value.(bool)
	if actualIsBool || wantIsBool {
		return game.FoldEqual(game.Stringify(actual), game.Stringify(condition.Value)), nil
	}
	return game.ValueEqual(actual, condition.Value), nil
}

// stateKeyContains holds when state[key] is a list with an element equal to
// the condition value (string-compared), a string containing the value as a
// substring, or, as a fallback, when the stringified values are equal.
func stateKeyContains(condition game.Condition, state map[string]any) (bool, error) {
	if condition.Key == "" {
		return false, fmt.Errorf("state_key_contains: key is required")
	}
	actual, ok := state[condition.Key]
	if !ok {
		return false, nil
	}
	want := game.Stringify(condition.Value)

	if list, ok := game.StringList(actual); ok {
		for _, element := range list {
			if element == want {
				return true, nil
			}
		}
		return false, nil
	}
	if text, ok := actual.(string); ok {
		return strings.Contains(text, want), nil
	}
	return game.Stringify(actual) == want, nil
}

// locationVisited holds when the location is a member of the list stored at
// the visited_locations state key. A missing or non-list value never holds.
func locationVisited(condition game.Condition, state map[string]any) (bool, error) {
	if condition.Location == "" {
		return false, fmt.Errorf("location_visited: location is required")
	}
	list, ok := game.StringList(state[game.VisitedLocationsKey])
	if !ok {
		return false, nil
	}
	for _, visited := range list {
		if visited == condition.Location {
			return true, nil
		}
	}
	return false, nil
}
