package campaign

import (
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/internal/game"
)

func compileString(t *testing.T, src string) (game.CampaignDefinition, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return Compile(v.LookupPath(cue.ParsePath("campaign")))
}

func TestCompileFile(t *testing.T) {
	def, err := CompileFile(filepath.Join("testdata", "cellar.cue"))
	require.NoError(t, err)

	assert.Equal(t, "The Hidden Cellar", def.Name)
	assert.Equal(t, "You stand in a dusty hall before a locked door.", def.OpeningScene)
	assert.Equal(t, []string{"look around", "open door"}, def.OpeningActions)
	assert.Equal(t, "hall", def.InitialState["location"])
	assert.Equal(t, false, def.InitialState["key_found"])

	require.Len(t, def.PlotPoints, 2)
	assert.Equal(t, "pp1", def.PlotPoints[0].ID)
	assert.True(t, def.PlotPoints[0].Required)
	assert.False(t, def.PlotPoints[1].Required)

	require.Len(t, def.ConclusionConditions, 2)
	assert.Equal(t, game.CondStateKeyEquals, def.ConclusionConditions[0].Kind)
	assert.Equal(t, "cellar", def.ConclusionConditions[1].Location)

	errs, warnings := Validate(def)
	assert.Empty(t, errs)
	assert.Empty(t, warnings)
}

func TestCompile_MissingName(t *testing.T) {
	_, err := compileString(t, `
		campaign: {
			opening_scene: "It begins."
			initial_state: {location: "hall"}
		}
	`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "name", ce.Field)
}

func TestCompile_MissingInitialState(t *testing.T) {
	_, err := compileString(t, `
		campaign: {
			name:          "Test"
			opening_scene: "It begins."
		}
	`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "initial_state", ce.Field)
}

func TestCompileFile_NotFound(t *testing.T) {
	_, err := CompileFile(filepath.Join("testdata", "missing.cue"))
	assert.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	def := game.CampaignDefinition{
		PlotPoints: []game.PlotPoint{
			{ID: "pp1", Description: "first", Required: true},
			{ID: "pp1", Description: "", Required: false},
			{ID: "", Description: "third"},
		},
		ConclusionConditions: []game.Condition{
			{Kind: game.CondStateKeyEquals},
		},
	}

	errs, _ := Validate(def)

	codes := make(map[string]int)
	for _, e := range errs {
		codes[e.Code]++
	}
	assert.Equal(t, 1, codes[ErrNameEmpty])
	assert.Equal(t, 1, codes[ErrOpeningSceneEmpty])
	assert.Equal(t, 1, codes[ErrNoInitialState])
	assert.Equal(t, 1, codes[ErrPlotPointIDDuplicate])
	assert.Equal(t, 1, codes[ErrPlotPointDescriptionEmpty])
	assert.Equal(t, 1, codes[ErrPlotPointIDEmpty])
	assert.Equal(t, 1, codes[ErrConditionFieldMissing])
}

func TestValidate_Warnings(t *testing.T) {
	def := game.CampaignDefinition{
		Name:         "Test",
		OpeningScene: "It begins.",
		InitialState: map[string]any{"location": "hall"},
		ConclusionConditions: []game.Condition{
			{Kind: "moon_phase_equals", Key: "phase", Value: "full"},
			{Kind: game.CondLocationVisited, Location: "cellar"},
		},
	}

	errs, warnings := Validate(def)
	assert.Empty(t, errs)
	require.Len(t, warnings, 2)
	assert.Equal(t, WarnUnknownConditionKind, warnings[0].Code)
	assert.Equal(t, WarnVisitedLocationsMissing, warnings[1].Code)
}
