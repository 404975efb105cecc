package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/taleweave/taleweave/internal/game"
	"github.com/taleweave/taleweave/internal/store"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <db> <session-id>",
		Short: "Dump a stored session",
		Long: `Load a session from a taleweave database and print its record: version,
state, completed plot points, and the full log.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runInspect(opts *RootOptions, dbPath, sessionID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	s, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error("open", err.Error())
		return NewExitError(ExitCommandError, err.Error())
	}
	defer s.Close()

	sess, err := s.LoadSession(context.Background(), sessionID)
	if err != nil {
		_ = formatter.Error("load", err.Error())
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", sessionID))
		}
		return NewExitError(ExitCommandError, err.Error())
	}

	if opts.Format == "json" {
		return formatter.Success(sess)
	}

	printSession(cmd, sess)
	return nil
}

func printSession(cmd *cobra.Command, sess *game.Session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session  %s\n", sess.ID)
	fmt.Fprintf(out, "campaign %s\n", sess.Campaign.Name)
	fmt.Fprintf(out, "owner    %s\n", sess.OwnerID)
	fmt.Fprintf(out, "version  %d\n", sess.Version)
	fmt.Fprintf(out, "started  %t   concluded %t\n", sess.Started, sess.Concluded)
	fmt.Fprintf(out, "turns since progress: %d\n", sess.TurnsSinceProgress)

	fmt.Fprintln(out, "\nstate:")
	for _, key := range sortedKeys(sess.State) {
		fmt.Fprintf(out, "  %-20s %v\n", key, sess.State[key])
	}

	if len(sess.CompletedPlotPoints) > 0 {
		fmt.Fprintln(out, "\ncompleted plot points:")
		for _, description := range sess.CompletedPlotPoints {
			fmt.Fprintf(out, "  - %s\n", description)
		}
	}

	fmt.Fprintln(out, "\nlog:")
	for _, entry := range sess.Log {
		member := ""
		if entry.MemberID != "" {
			member = " <" + entry.MemberID + ">"
		}
		fmt.Fprintf(out, "  %3d [%s]%s %s\n", entry.Seq, entry.Kind, member, entry.Body)
	}
}

func sortedKeys(state map[string]any) []string {
	keys := make([]string, 0, len(state))
	for key := range state {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
