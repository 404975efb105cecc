package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taleweave/taleweave/internal/campaign"
)

// ValidationResult holds validation results for JSON output.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []campaign.ValidationError `json:"errors,omitempty"`
	Warnings []campaign.ValidationError `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <campaign.cue>",
		Short: "Compile and validate a campaign file",
		Long: `Compile a CUE campaign file and check the rules the engine relies on:
required name and opening scene, unique non-empty plot point ids, and
well-formed conclusion conditions. Unknown condition kinds load but can
never fire, so they are reported as warnings.

Exit codes:
  0 - Campaign valid
  1 - Validation errors found
  2 - Command error (file not found, CUE syntax error)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	def, err := campaign.CompileFile(path)
	if err != nil {
		_ = formatter.Error("compile", err.Error())
		return NewExitError(ExitCommandError, err.Error())
	}

	errs, warnings := campaign.Validate(def)

	if opts.Format == "json" {
		result := ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		for _, w := range warnings {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
		}
		for _, e := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", e)
		}
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d plot points, %d conditions)\n",
				def.Name, len(def.PlotPoints), len(def.ConclusionConditions))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s failed validation\n", path)
		}
	}

	if len(errs) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}
	return nil
}
