package campaign

import (
	"fmt"
	"strings"

	"github.com/taleweave/taleweave/internal/game"
)

// Validation error codes (C100-C199)
const (
	// ErrNameEmpty - campaign name is required
	ErrNameEmpty = "C101"
	// ErrOpeningSceneEmpty - opening scene is required
	ErrOpeningSceneEmpty = "C102"
	// ErrPlotPointIDEmpty - plot point id must be non-empty
	ErrPlotPointIDEmpty = "C103"
	// ErrPlotPointIDDuplicate - plot point ids must be unique
	ErrPlotPointIDDuplicate = "C104"
	// ErrPlotPointDescriptionEmpty - plot point description must be non-empty
	ErrPlotPointDescriptionEmpty = "C105"
	// ErrConditionFieldMissing - a condition lacks its kind-specific field
	ErrConditionFieldMissing = "C106"
	// ErrNoInitialState - initial state must declare at least one key
	ErrNoInitialState = "C107"
	// WarnUnknownConditionKind - condition kind is not recognized; it will
	// never evaluate true
	WarnUnknownConditionKind = "C150"
	// WarnVisitedLocationsMissing - a location_visited condition without a
	// visited_locations state key can never be satisfied
	WarnVisitedLocationsMissing = "C151"
)

// ValidationError is one finding from campaign validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled campaign against the rules the engine relies
// on. Returns all errors found (does not fail-fast) plus warnings for
// constructs that load but can never fire.
func Validate(def game.CampaignDefinition) (errs, warnings []ValidationError) {
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrNameEmpty,
		})
	}
	if strings.TrimSpace(def.OpeningScene) == "" {
		errs = append(errs, ValidationError{
			Field:   "opening_scene",
			Message: "opening scene is required and must be non-empty",
			Code:    ErrOpeningSceneEmpty,
		})
	}
	if len(def.InitialState) == 0 {
		errs = append(errs, ValidationError{
			Field:   "initial_state",
			Message: "initial state must declare at least one key",
			Code:    ErrNoInitialState,
		})
	}

	seen := make(map[string]bool)
	for i, point := range def.PlotPoints {
		if strings.TrimSpace(point.ID) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("plot_points[%d].id", i),
				Message: "plot point id must be non-empty",
				Code:    ErrPlotPointIDEmpty,
			})
			continue
		}
		if seen[point.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("plot_points[%d].id", i),
				Message: fmt.Sprintf("duplicate plot point id: %q", point.ID),
				Code:    ErrPlotPointIDDuplicate,
			})
		}
		seen[point.ID] = true

		if strings.TrimSpace(point.Description) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("plot_points[%d].description", i),
				Message: fmt.Sprintf("plot point %q needs a description", point.ID),
				Code:    ErrPlotPointDescriptionEmpty,
			})
		}
	}

	for i, cond := range def.ConclusionConditions {
		field := fmt.Sprintf("conclusion_conditions[%d]", i)
		if !game.KnownConditionKind(cond.Kind) {
			warnings = append(warnings, ValidationError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("unknown condition kind %q will never evaluate true", cond.Kind),
				Code:    WarnUnknownConditionKind,
			})
			continue
		}
		switch cond.Kind {
		case game.CondStateKeyEquals, game.CondStateKeyExists, game.CondStateKeyContains:
			if strings.TrimSpace(cond.Key) == "" {
				errs = append(errs, ValidationError{
					Field:   field + ".key",
					Message: cond.Kind + " requires a key",
					Code:    ErrConditionFieldMissing,
				})
			}
		case game.CondLocationVisited:
			if strings.TrimSpace(cond.Location) == "" {
				errs = append(errs, ValidationError{
					Field:   field + ".location",
					Message: "location_visited requires a location",
					Code:    ErrConditionFieldMissing,
				})
			}
			if _, ok := def.InitialState[game.VisitedLocationsKey]; !ok {
				warnings = append(warnings, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("initial state has no %q key, so this condition can never be satisfied", game.VisitedLocationsKey),
					Code:    WarnVisitedLocationsMissing,
				})
			}
		}
	}

	return errs, warnings
}
