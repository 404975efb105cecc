// Package campaign compiles CUE-authored campaign files into
// game.CampaignDefinition values and validates them.
package campaign

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/taleweave/taleweave/internal/game"
)

// CompileError reports a structural problem in a campaign file.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileFile reads and compiles a CUE campaign file. The campaign struct
// is expected at the top-level "campaign" field.
func CompileFile(path string) (game.CampaignDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return game.CampaignDefinition{}, fmt.Errorf("read campaign file: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return game.CampaignDefinition{}, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("campaign"))
	if !root.Exists() {
		return game.CampaignDefinition{}, &CompileError{
			Field:   "campaign",
			Message: "top-level campaign struct is required",
			Pos:     v.Pos(),
		}
	}
	return Compile(root)
}

// Compile parses a CUE value into a CampaignDefinition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
func Compile(v cue.Value) (game.CampaignDefinition, error) {
	if err := v.Err(); err != nil {
		return game.CampaignDefinition{}, formatCUEError(err)
	}

	var def game.CampaignDefinition

	name, err := requiredString(v, "name")
	if err != nil {
		return game.CampaignDefinition{}, err
	}
	def.Name = name

	scene, err := requiredString(v, "opening_scene")
	if err != nil {
		return game.CampaignDefinition{}, err
	}
	def.OpeningScene = scene

	if desc := v.LookupPath(cue.ParsePath("description")); desc.Exists() {
		if def.Description, err = desc.String(); err != nil {
			return game.CampaignDefinition{}, formatCUEError(err)
		}
	}

	if actions := v.LookupPath(cue.ParsePath("opening_actions")); actions.Exists() {
		if err := actions.Decode(&def.OpeningActions); err != nil {
			return game.CampaignDefinition{}, &CompileError{
				Field:   "opening_actions",
				Message: "must be a list of strings",
				Pos:     actions.Pos(),
			}
		}
	}

	state := v.LookupPath(cue.ParsePath("initial_state"))
	if !state.Exists() {
		return game.CampaignDefinition{}, &CompileError{
			Field:   "initial_state",
			Message: "initial_state is required; its keys form the state schema",
			Pos:     v.Pos(),
		}
	}
	if err := state.Decode(&def.InitialState); err != nil {
		return game.CampaignDefinition{}, &CompileError{
			Field:   "initial_state",
			Message: "must be a struct of scalars, lists, and structs",
			Pos:     state.Pos(),
		}
	}

	if points := v.LookupPath(cue.ParsePath("plot_points")); points.Exists() {
		if err := points.Decode(&def.PlotPoints); err != nil {
			return game.CampaignDefinition{}, &CompileError{
				Field:   "plot_points",
				Message: "each plot point needs id, description, and required",
				Pos:     points.Pos(),
			}
		}
	}

	if conds := v.LookupPath(cue.ParsePath("conclusion_conditions")); conds.Exists() {
		if err := conds.Decode(&def.ConclusionConditions); err != nil {
			return game.CampaignDefinition{}, &CompileError{
				Field:   "conclusion_conditions",
				Message: "each condition needs a kind plus its kind-specific fields",
				Pos:     conds.Pos(),
			}
		}
	}

	return def, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{
			Field:   field,
			Message: field + " must be non-empty",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

// formatCUEError renders CUE errors with positions.
func formatCUEError(err error) error {
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		return fmt.Errorf("compile campaign: %s", cueerrors.Details(err, nil))
	}
	return fmt.Errorf("compile campaign: %w", err)
}
