package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taleweave/taleweave/internal/harness"
)

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Error  string `json:"error,omitempty"`
	Events int    `json:"events"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <scenario.yaml...>",
		Short: "Run conformance scenarios",
		Long: `Run YAML scenario files against a fresh engine with a scripted
generator. Each scenario gets its own temporary database.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (file not found, malformed scenario)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(rootOpts, args, cmd)
		},
	}
}

func runTests(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	tempDir, err := os.MkdirTemp("", "taleweave-test-*")
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	defer os.RemoveAll(tempDir)

	result := TestResult{Total: len(paths)}
	for i, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			_ = formatter.Error("load", err.Error())
			return NewExitError(ExitCommandError, err.Error())
		}

		dbPath := filepath.Join(tempDir, fmt.Sprintf("scenario-%d.db", i))
		run, err := harness.Run(scenario, dbPath)

		scenResult := ScenarioResult{Name: scenario.Name, Pass: err == nil}
		if run != nil {
			scenResult.Events = len(run.Events)
		}
		if err != nil {
			scenResult.Error = err.Error()
			result.Failed++
		} else {
			result.Passed++
		}
		result.Scenarios = append(result.Scenarios, scenResult)

		if opts.Format != "json" {
			if scenResult.Pass {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (%d turns)\n", scenario.Name, scenResult.Events)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %s\n  %s\n", scenario.Name, scenResult.Error)
			}
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d passed, %d failed\n", result.Passed, result.Failed)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}
