package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taleweave/taleweave/internal/cache"
	"github.com/taleweave/taleweave/internal/campaign"
	"github.com/taleweave/taleweave/internal/engine"
	"github.com/taleweave/taleweave/internal/game"
	"github.com/taleweave/taleweave/internal/generate"
	"github.com/taleweave/taleweave/internal/store"
)

// TranscriptEvent is one turn's outcome in a scenario transcript.
type TranscriptEvent struct {
	Turn      int    `json:"turn"`
	Member    string `json:"member"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Version   int64  `json:"version"`
	Message   string `json:"message,omitempty"`
	Narrative string `json:"narrative,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// FinalState is the session's end-of-scenario view.
type FinalState struct {
	Version   int64          `json:"version"`
	Concluded bool           `json:"concluded"`
	LogLength int            `json:"log_length"`
	State     map[string]any `json:"state"`
}

// Result is a completed scenario run.
type Result struct {
	Scenario  string            `json:"scenario"`
	SessionID string            `json:"session_id"`
	Events    []TranscriptEvent `json:"events"`
	Final     FinalState        `json:"final"`
}

// Run executes a scenario against a fresh engine backed by a SQLite store
// at dbPath. Setup failures return early; expectation mismatches are
// collected across the whole flow and joined into one error, with the
// transcript still returned.
func Run(scenario *Scenario, dbPath string) (*Result, error) {
	def, err := campaign.CompileFile(scenario.Campaign)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if errs, _ := campaign.Validate(def); len(errs) > 0 {
		return nil, fmt.Errorf("scenario %s: campaign invalid: %s", scenario.Name, errs[0])
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	defer s.Close()

	var steps []generate.Step
	for _, turn := range scenario.Turns {
		if turn.Respond != nil {
			steps = append(steps, *turn.Respond)
		}
	}

	logger := slog.New(slog.DiscardHandler)
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := engine.New(cache.New(s, 0, logger), generate.NewScripted(steps), engine.Options{
		IDs:    engine.NewFixedGenerator("id"),
		Clock:  func() time.Time { return frozen },
		Logger: logger,
	})
	defer eng.Close()

	ctx := context.Background()
	owner := scenario.Members[0]
	snap, err := eng.CreateSession(ctx, owner, def)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: create session: %w", scenario.Name, err)
	}
	sessionID := snap.SessionID

	for _, member := range scenario.Members[1:] {
		if _, err := eng.Join(ctx, sessionID, member); err != nil {
			return nil, fmt.Errorf("scenario %s: join %s: %w", scenario.Name, member, err)
		}
	}
	if err := eng.StartSession(ctx, sessionID, owner); err != nil {
		return nil, fmt.Errorf("scenario %s: start: %w", scenario.Name, err)
	}

	result := &Result{Scenario: scenario.Name, SessionID: sessionID}
	var failures []error

	for i, turn := range scenario.Turns {
		turnResult, err := eng.SubmitAction(ctx, sessionID, turn.Member, turn.Action)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: turn %d refused: %w", scenario.Name, i+1, err)
		}

		event := TranscriptEvent{
			Turn:    i + 1,
			Member:  turn.Member,
			Action:  turn.Action,
			Status:  string(turnResult.Status),
			Version: turnResult.Version,
			Message: turnResult.Message,
			Summary: turnResult.Summary,
		}
		for _, entry := range turnResult.Log {
			if entry.Kind == game.LogKindNarrative {
				event.Narrative = entry.Body
			}
		}
		result.Events = append(result.Events, event)

		if expect := turn.Expect; expect != nil {
			if expect.Status != string(turnResult.Status) {
				failures = append(failures, fmt.Errorf(
					"turn %d: expected status %s, got %s", i+1, expect.Status, turnResult.Status))
			}
			if expect.Version != 0 && expect.Version != turnResult.Version {
				failures = append(failures, fmt.Errorf(
					"turn %d: expected version %d, got %d", i+1, expect.Version, turnResult.Version))
			}
		}
	}

	final, err := eng.GetSnapshot(sessionID, owner)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: final snapshot: %w", scenario.Name, err)
	}
	result.Final = FinalState{
		Version:   final.Version,
		Concluded: final.Concluded,
		LogLength: len(final.Log),
		State:     final.State,
	}

	failures = append(failures, checkFinal(scenario.Final, result.Final)...)
	if len(failures) > 0 {
		return result, fmt.Errorf("scenario %s: %w", scenario.Name, errors.Join(failures...))
	}
	return result, nil
}

func checkFinal(expect *FinalClause, final FinalState) []error {
	if expect == nil {
		return nil
	}
	var failures []error
	if expect.Version != 0 && expect.Version != final.Version {
		failures = append(failures, fmt.Errorf("final: expected version %d, got %d", expect.Version, final.Version))
	}
	if expect.Concluded != nil && *expect.Concluded != final.Concluded {
		failures = append(failures, fmt.Errorf("final: expected concluded=%t, got %t", *expect.Concluded, final.Concluded))
	}
	if expect.LogLength != 0 && expect.LogLength != final.LogLength {
		failures = append(failures, fmt.Errorf("final: expected %d log entries, got %d", expect.LogLength, final.LogLength))
	}
	for key, want := range expect.State {
		got, ok := final.State[key]
		if !ok {
			failures = append(failures, fmt.Errorf("final: state key %q missing", key))
			continue
		}
		if !game.ValueEqual(want, got) {
			failures = append(failures, fmt.Errorf("final: state %q: expected %v, got %v", key, want, got))
		}
	}
	return failures
}
