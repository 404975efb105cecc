package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taleweave/taleweave/internal/cache"
	"github.com/taleweave/taleweave/internal/campaign"
	"github.com/taleweave/taleweave/internal/config"
	"github.com/taleweave/taleweave/internal/engine"
	"github.com/taleweave/taleweave/internal/game"
	"github.com/taleweave/taleweave/internal/generate"
	"github.com/taleweave/taleweave/internal/store"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Player string
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play <campaign.cue>",
		Short: "Play a campaign locally",
		Long: `Run a single-player session on the terminal with the built-in offline
generator. Actions are read one per line; "quit" ends the session. State
is persisted to the configured database, so a session survives restarts
of the command.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Player, "player", "player", "player name")

	return cmd
}

func runPlay(opts *PlayOptions, path string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	def, err := campaign.CompileFile(path)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	errs, warnings := campaign.Validate(def)
	if len(errs) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("campaign invalid: %s", errs[0]))
	}
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	cfg, err := config.Load()
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	defer s.Close()

	eng := engine.New(cache.New(s, cfg.DiffRetention, nil), generate.NewImprov(), engine.Options{
		GeneratorTimeout: cfg.GeneratorTimeout,
		StuckThreshold:   cfg.StuckThreshold,
		QueueCapacity:    cfg.QueueCapacity,
	})
	defer eng.Close()

	ctx := context.Background()
	snap, err := eng.CreateSession(ctx, opts.Player, def)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	if err := eng.StartSession(ctx, snap.SessionID, opts.Player); err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	fmt.Fprintf(out, "%s\n\n%s\n", def.Name, def.OpeningScene)
	printActions(out, snap.AvailableActions)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		action := strings.TrimSpace(scanner.Text())
		if action == "" {
			continue
		}
		if action == "quit" {
			fmt.Fprintf(out, "session saved: %s\n", snap.SessionID)
			break
		}

		result, err := eng.SubmitAction(ctx, snap.SessionID, opts.Player, action)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}

		switch result.Status {
		case game.TurnValidationRejected:
			fmt.Fprintf(out, "%s\n", result.Message)
		case game.TurnGenerationFailed, game.TurnCommitFailed:
			fmt.Fprintf(out, "nothing happens (%s)\n", result.Status)
		case game.TurnConcluded:
			printNarrative(out, result)
			fmt.Fprintf(out, "\nThe story has reached its end.\n")
			return nil
		default:
			printNarrative(out, result)
			printActions(out, result.AvailableActions)
		}
	}
	return scanner.Err()
}

func printNarrative(out io.Writer, result game.TurnResult) {
	for _, entry := range result.Log {
		if entry.Kind == game.LogKindNarrative {
			fmt.Fprintf(out, "%s\n", entry.Body)
		}
	}
}

func printActions(out io.Writer, actions []string) {
	if len(actions) == 0 {
		return
	}
	fmt.Fprintf(out, "[%s]\n", strings.Join(actions, " | "))
}
