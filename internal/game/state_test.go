package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneState_Independent(t *testing.T) {
	original := map[string]any{
		"location":  "cellar",
		"inventory": []any{"torch", "rope"},
		"npc_states": map[string]any{
			"guard": map[string]any{"mood": "wary"},
		},
	}

	clone := CloneState(original)
	require.True(t, ValueEqual(original["inventory"], clone["inventory"]))

	clone["location"] = "attic"
	clone["inventory"].([]any)[0] = "sword"
	clone["npc_states"].(map[string]any)["guard"].(map[string]any)["mood"] = "calm"

	assert.Equal(t, "cellar", original["location"])
	assert.Equal(t, "torch", original["inventory"].([]any)[0])
	assert.Equal(t, "wary", original["npc_states"].(map[string]any)["guard"].(map[string]any)["mood"])
}

func TestCloneState_NilBecomesEmpty(t *testing.T) {
	clone := CloneState(nil)
	require.NotNil(t, clone)
	assert.Empty(t, clone)
}

func TestValueEqual(t *testing.T) {
	testCases := []struct {
		name string
		a    any
		b    any
		want bool
	}{
		{"equal strings", "torch", "torch", true},
		{"different strings", "torch", "rope", false},
		{"int vs float same magnitude", int64(3), float64(3), true},
		{"int vs float different", int64(3), float64(4), false},
		{"number vs string", int64(3), "3", false},
		{"equal lists", []any{"a", "b"}, []any{"a", "b"}, true},
		{"list order matters", []any{"a", "b"}, []any{"b", "a"}, false},
		{"equal maps", map[string]any{"x": 1.0}, map[string]any{"x": int64(1)}, true},
		{"map key missing", map[string]any{"x": 1.0}, map[string]any{"y": 1.0}, false},
		{"bools", true, true, true},
		{"nested", map[string]any{"l": []any{map[string]any{"k": "v"}}}, map[string]any{"l": []any{map[string]any{"k": "v"}}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValueEqual(tc.a, tc.b))
		})
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "3.5", Stringify(3.5))
	assert.Equal(t, "open", Stringify("open"))
	assert.Equal(t, "", Stringify(nil))
}

func TestDiffStates(t *testing.T) {
	base := map[string]any{
		"location": "cellar",
		"torch":    "lit",
		"door":     "closed",
	}
	current := map[string]any{
		"location": "attic",
		"door":     "closed",
		"rope":     "coiled",
	}

	changed, removed := DiffStates(base, current)

	assert.Equal(t, map[string]any{"location": "attic", "rope": "coiled"}, changed)
	assert.Equal(t, []string{"torch"}, removed)
}

func TestDiffStates_RoundTrip(t *testing.T) {
	base := map[string]any{
		"location":  "cellar",
		"inventory": []any{"torch"},
		"flags":     map[string]any{"lit": true},
	}
	current := map[string]any{
		"location":  "attic",
		"inventory": []any{"torch", "rope"},
		"visited":   []any{"cellar", "attic"},
	}

	changed, removed := DiffStates(base, current)
	diff := StateDiff{FromVersion: 1, ToVersion: 2, Changed: changed, Removed: removed}

	rebuilt := ApplyDiff(base, diff)
	require.Len(t, rebuilt, len(current))
	for key, value := range current {
		assert.True(t, ValueEqual(value, rebuilt[key]), "key %q", key)
	}
}

func TestApplyDiff_Full(t *testing.T) {
	diff := StateDiff{
		FromVersion: 1,
		ToVersion:   9,
		Full:        true,
		Changed:     map[string]any{"location": "attic"},
	}

	rebuilt := ApplyDiff(map[string]any{"stale": "value"}, diff)
	assert.Equal(t, map[string]any{"location": "attic"}, rebuilt)
}

func TestNextRequiredPlotPoint(t *testing.T) {
	points := []PlotPoint{
		{ID: "pp1", Description: "find the key", Required: true},
		{ID: "pp2", Description: "admire the view", Required: false},
		{ID: "pp3", Description: "open the vault", Required: true},
	}

	next, ok := NextRequiredPlotPoint(points, nil)
	require.True(t, ok)
	assert.Equal(t, "find the key", next.Description)

	next, ok = NextRequiredPlotPoint(points, []string{"find the key"})
	require.True(t, ok)
	assert.Equal(t, "open the vault", next.Description)

	_, ok = NextRequiredPlotPoint(points, []string{"find the key", "open the vault"})
	assert.False(t, ok)
}

func TestStringList(t *testing.T) {
	list, ok := StringList([]any{"torch", "rope"})
	require.True(t, ok)
	assert.Equal(t, []string{"torch", "rope"}, list)

	list, ok = StringList([]string{"torch"})
	require.True(t, ok)
	assert.Equal(t, []string{"torch"}, list)

	_, ok = StringList("torch")
	assert.False(t, ok)
}

func TestStateSchema(t *testing.T) {
	campaign := CampaignDefinition{
		InitialState: map[string]any{"location": "cellar", "inventory": []any{}},
	}
	schema := campaign.StateSchema()
	assert.Contains(t, schema, "location")
	assert.Contains(t, schema, "inventory")
	assert.NotContains(t, schema, "door")
}
