// Package generate defines the narrative generator contract.
//
// The turn pipeline treats a Generator as a black box: it hands over the
// current state plus the player's action and gets back narrative text, a
// state delta, and a fresh action list. Generators that call out to remote
// models live behind this interface; the package also ships two offline
// implementations, Scripted for tests and harness runs and Improv for
// local play.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taleweave/taleweave/internal/game"
)

// AchievedPlotPointKey is the reserved delta key a generator uses to signal
// that the turn achieved a plot point. Its value is the plot point's
// description. The engine consumes and strips it; it never reaches session
// state.
const AchievedPlotPointKey = "achieved_plot_point"

var (
	// ErrEmptyNarrative indicates a response with no narrative text.
	ErrEmptyNarrative = errors.New("generator returned empty narrative")
	// ErrNoActions indicates a response with no follow-up actions.
	ErrNoActions = errors.New("generator returned no available actions")
)

// Request is everything a generator sees for one turn.
type Request struct {
	// CampaignName and CampaignDescription frame the narrative.
	CampaignName        string
	CampaignDescription string
	// State is a read-only copy of the session state.
	State map[string]any
	// Log is the recent log tail, oldest first.
	Log []game.LogEntry
	// Action is the validated player action, verbatim.
	Action string
	// MemberID identifies the acting player.
	MemberID string
	// NextPlotPoint is the description of the next required plot point,
	// empty when all required plot points are complete.
	NextPlotPoint string
	// Stuck is set when the session has gone several turns without
	// narrative progress; generators should steer back toward the plot.
	Stuck bool
}

// Response is one turn's generator output, before engine post-processing.
type Response struct {
	Narrative        string
	StateDelta       map[string]any
	AvailableActions []string
	Usage            game.TokenUsage
}

// Validate checks the response shape the pipeline depends on. A response
// failing validation is treated as a generation failure; the turn commits
// nothing.
func (r *Response) Validate() error {
	if strings.TrimSpace(r.Narrative) == "" {
		return ErrEmptyNarrative
	}
	if len(r.AvailableActions) == 0 {
		return ErrNoActions
	}
	for i, action := range r.AvailableActions {
		if strings.TrimSpace(action) == "" {
			return fmt.Errorf("available action %d is empty", i)
		}
	}
	if r.StateDelta == nil {
		r.StateDelta = map[string]any{}
	}
	return nil
}

// AchievedPlotPoint extracts and removes the reserved plot point marker
// from the delta. Returns the achieved description and whether the marker
// was present with a usable value.
func (r *Response) AchievedPlotPoint() (string, bool) {
	raw, ok := r.StateDelta[AchievedPlotPointKey]
	if !ok {
		return "", false
	}
	delete(r.StateDelta, AchievedPlotPointKey)
	description, ok := raw.(string)
	if !ok || strings.TrimSpace(description) == "" {
		return "", false
	}
	return strings.TrimSpace(description), true
}

// Generator produces one turn of narrative. Implementations must honor
// context cancellation; the engine bounds every call with a deadline.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
