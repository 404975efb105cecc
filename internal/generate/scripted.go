package generate

import (
	"context"
	"fmt"
	"sync"

	"github.com/taleweave/taleweave/internal/game"
)

// Step is one pre-authored turn of a scripted generator.
type Step struct {
	Narrative        string         `yaml:"narrative" json:"narrative"`
	StateDelta       map[string]any `yaml:"state_delta" json:"state_delta"`
	AvailableActions []string       `yaml:"available_actions" json:"available_actions"`
	// Err, when set, makes the step fail instead of responding.
	Err string `yaml:"error" json:"error,omitempty"`
}

// Scripted replays a fixed sequence of steps, one per Generate call,
// regardless of the request. Exhausting the script is an error. Used by the
// scenario harness and tests, where turn outcomes must be deterministic.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	next  int
}

// NewScripted builds a generator that replays the given steps in order.
func NewScripted(steps []Step) *Scripted {
	return &Scripted{steps: steps}
}

// Generate returns the next scripted step.
func (s *Scripted) Generate(ctx context.Context, _ Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.steps) {
		return Response{}, fmt.Errorf("script exhausted after %d steps", len(s.steps))
	}
	step := s.steps[s.next]
	s.next++

	if step.Err != "" {
		return Response{}, fmt.Errorf("scripted failure: %s", step.Err)
	}

	delta := game.CloneState(step.StateDelta)
	return Response{
		Narrative:        step.Narrative,
		StateDelta:       delta,
		AvailableActions: append([]string(nil), step.AvailableActions...),
		Usage:            game.TokenUsage{},
	}, nil
}

// Remaining reports how many steps are left unplayed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps) - s.next
}
