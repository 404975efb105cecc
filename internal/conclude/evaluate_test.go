package conclude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/internal/game"
)

func requiredPoint(description string) game.PlotPoint {
	return game.PlotPoint{ID: description, Description: description, Required: true}
}

func TestEvaluate_RequiredPlotPointGate(t *testing.T) {
	points := []game.PlotPoint{requiredPoint("find key")}
	conditions := []game.Condition{
		{Kind: game.CondStateKeyEquals, Key: "door", Value: "open"},
	}
	state := map[string]any{"door": "open"}

	// Unmet required plot point fails before conditions are even consulted.
	concluded, err := Evaluate(conditions, points, state, nil)
	require.NoError(t, err)
	assert.False(t, concluded)

	// Same inputs with the plot point completed.
	concluded, err = Evaluate(conditions, points, state, []string{"find key"})
	require.NoError(t, err)
	assert.True(t, concluded)
}

func TestEvaluate_EmptyConditionsVacuouslyTrue(t *testing.T) {
	points := []game.PlotPoint{
		requiredPoint("find key"),
		{ID: "pp2", Description: "pet the dog", Required: false},
	}

	concluded, err := Evaluate(nil, points, map[string]any{}, []string{"find key"})
	require.NoError(t, err)
	assert.True(t, concluded)
}

func TestEvaluate_Deterministic(t *testing.T) {
	conditions := []game.Condition{
		{Kind: game.CondStateKeyContains, Key: "inventory", Value: "torch"},
		{Kind: game.CondLocationVisited, Location: "attic"},
	}
	state := map[string]any{
		"inventory":         []any{"torch"},
		"visited_locations": []any{"cellar", "attic"},
	}

	first, err1 := Evaluate(conditions, nil, state, nil)
	second, err2 := Evaluate(conditions, nil, state, nil)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
	assert.True(t, first)
}

func TestEvaluate_Conditions(t *testing.T) {
	testCases := []struct {
		name      string
		condition game.Condition
		state     map[string]any
		want      bool
		wantErr   bool
	}{
		{
			name:      "equals string match",
			condition: game.Condition{Kind: game.CondStateKeyEquals, Key: "door", Value: "open"},
			state:     map[string]any{"door": "open"},
			want:      true,
		},
		{
			name:      "equals string mismatch",
			condition: game.Condition{Kind: game.CondStateKeyEquals, Key: "door", Value: "open"},
			state:     map[string]any{"door": "closed"},
			want:      false,
		},
		{
			name:      "equals bool tolerates string drift",
			condition: game.Condition{Kind: game.CondStateKeyEquals, Key: "victory", Value: true},
			state:     map[string]any{"victory": "True"},
			want:      true,
		},
		{
			name:      "equals bool against bool",
			condition: game.Condition{Kind: game.CondStateKeyEquals, Key: "victory", Value: true},
			state:     map[string]any{"victory": true},
			want:      true,
		},
		{
			name:      "equals numeric cross type",
			condition: game.Condition{Kind: game.CondStateKeyEquals, Key: "gold", Value: int64(7)},
			state:     map[string]any{"gold": float64(7)},
			want:      true,
		},
		{
			name:      "equals missing key",
			condition: game.Condition{Kind: game.CondStateKeyEquals, Key: "door", Value: "open"},
			state:     map[string]any{},
			want:      false,
		},
		{
			name:      "exists present",
			condition: game.Condition{Kind: game.CondStateKeyExists, Key: "door"},
			state:     map[string]any{"door": "closed"},
			want:      true,
		},
		{
			name:      "exists absent",
			condition: game.Condition{Kind: game.CondStateKeyExists, Key: "door"},
			state:     map[string]any{},
			want:      false,
		},
		{
			name:      "contains list element",
			condition: game.Condition{Kind: game.CondStateKeyContains, Key: "inventory", Value: "torch"},
			state:     map[string]any{"inventory": []any{"rope", "torch"}},
			want:      true,
		},
		{
			name:      "contains list miss",
			condition: game.Condition{Kind: game.CondStateKeyContains, Key: "inventory", Value: "sword"},
			state:     map[string]any{"inventory": []any{"rope", "torch"}},
			want:      false,
		},
		{
			name:      "contains substring",
			condition: game.Condition{Kind: game.CondStateKeyContains, Key: "note", Value: "vault"},
			state:     map[string]any{"note": "the vault is behind the painting"},
			want:      true,
		},
		{
			name:      "contains stringified fallback",
			condition: game.Condition{Kind: game.CondStateKeyContains, Key: "gold", Value: 12},
			state:     map[string]any{"gold": float64(12)},
			want:      true,
		},
		{
			name:      "location visited",
			condition: game.Condition{Kind: game.CondLocationVisited, Location: "attic"},
			state:     map[string]any{"visited_locations": []any{"attic"}},
			want:      true,
		},
		{
			name:      "location visited missing key",
			condition: game.Condition{Kind: game.CondLocationVisited, Location: "attic"},
			state:     map[string]any{},
			want:      false,
		},
		{
			name:      "location visited non-list",
			condition: game.Condition{Kind: game.CondLocationVisited, Location: "attic"},
			state:     map[string]any{"visited_locations": "attic"},
			want:      false,
		},
		{
			name:      "unsupported kind fails evaluation",
			condition: game.Condition{Kind: "phase_of_moon", Key: "x"},
			state:     map[string]any{},
			want:      false,
			wantErr:   true,
		},
		{
			name:      "malformed condition fails evaluation",
			condition: game.Condition{},
			state:     map[string]any{},
			want:      false,
			wantErr:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			concluded, err := Evaluate([]game.Condition{tc.condition}, nil, tc.state, nil)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, concluded)
		})
	}
}

func TestEvaluate_ShortCircuitsOnFirstFailure(t *testing.T) {
	conditions := []game.Condition{
		{Kind: game.CondStateKeyEquals, Key: "door", Value: "open"},
		{Kind: "bogus"}, // never reached
	}
	state := map[string]any{"door": "closed"}

	concluded, err := Evaluate(conditions, nil, state, nil)
	require.NoError(t, err, "failed condition short-circuits before the malformed one")
	assert.False(t, concluded)
}
