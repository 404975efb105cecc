// Package harness runs YAML conformance scenarios against a real engine:
// temp SQLite store, scripted generator, fixed IDs and clock, so every run
// of a scenario produces the identical transcript.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/taleweave/taleweave/internal/game"
	"github.com/taleweave/taleweave/internal/generate"
)

// Scenario defines one conformance scenario: a campaign, a member roster,
// and a sequence of turns with scripted generator responses.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Campaign is the path to the CUE campaign file, relative to the
	// scenario file.
	Campaign string `yaml:"campaign"`

	// Members lists everyone who joins before play starts. The first
	// member owns and starts the session.
	Members []string `yaml:"members"`

	// Turns is the main flow.
	Turns []TurnStep `yaml:"turns"`

	// Final holds assertions against the session after the last turn.
	Final *FinalClause `yaml:"final,omitempty"`
}

// TurnStep is one submitted action with its scripted generator response
// and expected outcome.
type TurnStep struct {
	// Member submits the action.
	Member string `yaml:"member"`

	// Action is the raw action text.
	Action string `yaml:"action"`

	// Respond is the scripted generator response for this turn. Omit it
	// for turns that never reach the generator (validation rejections).
	Respond *generate.Step `yaml:"respond,omitempty"`

	// Expect validates the turn result. If nil, any outcome passes.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected turn result.
type ExpectClause struct {
	// Status is the expected result status (updated, concluded, …).
	Status string `yaml:"status"`

	// Version is the expected session version after the turn. Zero means
	// not checked.
	Version int64 `yaml:"version,omitempty"`
}

// FinalClause validates the session after the flow completes.
type FinalClause struct {
	// Version is the expected final version. Zero means not checked.
	Version int64 `yaml:"version,omitempty"`

	// Concluded, when set, is the expected terminal flag.
	Concluded *bool `yaml:"concluded,omitempty"`

	// LogLength is the expected total log entry count. Zero means not
	// checked.
	LogLength int `yaml:"log_length,omitempty"`

	// State contains expected state values. Subset match.
	State map[string]any `yaml:"state,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. The campaign path is
// resolved relative to the scenario file. Unknown fields are rejected so
// typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}

	if scenario.Campaign != "" && !filepath.IsAbs(scenario.Campaign) {
		scenario.Campaign = filepath.Join(filepath.Dir(path), scenario.Campaign)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Campaign == "" {
		return fmt.Errorf("campaign is required")
	}
	if _, err := os.Stat(s.Campaign); err != nil {
		return fmt.Errorf("campaign file not found: %s", s.Campaign)
	}
	if len(s.Members) == 0 {
		return fmt.Errorf("members list is required and must be non-empty")
	}
	if len(s.Turns) == 0 {
		return fmt.Errorf("turns list is required and must be non-empty")
	}

	roster := make(map[string]bool, len(s.Members))
	for i, member := range s.Members {
		if member == "" {
			return fmt.Errorf("members[%d]: member name must be non-empty", i)
		}
		roster[member] = true
	}
	for i, turn := range s.Turns {
		if turn.Member == "" {
			return fmt.Errorf("turns[%d]: member is required", i)
		}
		if !roster[turn.Member] {
			return fmt.Errorf("turns[%d]: member %q is not in the members list", i, turn.Member)
		}
		if turn.Action == "" {
			return fmt.Errorf("turns[%d]: action is required", i)
		}
		if turn.Expect != nil && !knownStatus(turn.Expect.Status) {
			return fmt.Errorf("turns[%d].expect: unknown status %q", i, turn.Expect.Status)
		}
	}
	return nil
}

func knownStatus(status string) bool {
	switch game.TurnStatus(status) {
	case game.TurnValidationRejected, game.TurnGenerationFailed,
		game.TurnCommitFailed, game.TurnUpdated, game.TurnConcluded:
		return true
	}
	return false
}
