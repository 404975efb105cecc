package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/taleweave/taleweave/internal/game"
)

// Improv is a deterministic offline generator for local play. It narrates
// by echoing the player's action into a short scene, tracks visited
// locations when the action moves somewhere, and marks the next required
// plot point achieved when the action mentions it. No randomness: the same
// session transcript always replays identically.
type Improv struct{}

// NewImprov returns the offline improviser.
func NewImprov() *Improv {
	return &Improv{}
}

// Generate improvises one turn from the request alone.
func (g *Improv) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	action := strings.TrimSpace(req.Action)
	delta := map[string]any{}

	narrative := fmt.Sprintf("You %s.", strings.ToLower(strings.TrimSuffix(action, ".")))
	if req.Stuck && req.NextPlotPoint != "" {
		narrative += fmt.Sprintf(" A thought keeps returning to you: %s.", req.NextPlotPoint)
	}

	if destination, ok := movementTarget(action); ok {
		narrative = fmt.Sprintf("You make your way to the %s.", destination)
		delta["location"] = destination
		if visited, ok := game.StringList(req.State[game.VisitedLocationsKey]); ok {
			if !containsFold(visited, destination) {
				list := make([]any, 0, len(visited)+1)
				for _, loc := range visited {
					list = append(list, loc)
				}
				delta[game.VisitedLocationsKey] = append(list, destination)
			}
		}
	}

	if req.NextPlotPoint != "" && mentionsPlotPoint(action, req.NextPlotPoint) {
		narrative += fmt.Sprintf(" Something shifts: %s.", req.NextPlotPoint)
		delta[AchievedPlotPointKey] = req.NextPlotPoint
	}

	actions := []string{"look around", "wait"}
	if action != "" {
		actions = append(actions, fmt.Sprintf("%s again", action))
	}

	return Response{
		Narrative:        narrative,
		StateDelta:       delta,
		AvailableActions: actions,
		Usage:            game.TokenUsage{},
	}, nil
}

// movementTarget extracts a destination from actions like "go to the
// cellar" or "enter library".
func movementTarget(action string) (string, bool) {
	lower := strings.ToLower(action)
	for _, prefix := range []string{"go to the ", "go to ", "enter the ", "enter ", "walk to the ", "walk to "} {
		if strings.HasPrefix(lower, prefix) {
			target := strings.TrimSpace(strings.TrimPrefix(lower, prefix))
			if target != "" {
				return target, true
			}
		}
	}
	return "", false
}

// mentionsPlotPoint reports whether the action shares a significant word
// with the plot point description.
func mentionsPlotPoint(action, description string) bool {
	actionWords := map[string]struct{}{}
	for _, word := range strings.Fields(strings.ToLower(action)) {
		actionWords[strings.Trim(word, ".,!?")] = struct{}{}
	}
	for _, word := range strings.Fields(strings.ToLower(description)) {
		word = strings.Trim(word, ".,!?")
		if len(word) < 4 {
			continue
		}
		if _, ok := actionWords[word]; ok {
			return true
		}
	}
	return false
}

func containsFold(list []string, want string) bool {
	for _, item := range list {
		if game.FoldEqual(item, want) {
			return true
		}
	}
	return false
}
