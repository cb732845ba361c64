package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/journal"
	"github.com/Aman-CERP/indexsync/internal/output"
)

func newJournalCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Manage the import journal",
		Long: `The journal records every accepted import action when journaling is
enabled. Replaying it re-imports the recorded ids, which recovers an index
that lost writes its source still has.`,
	}

	cmd.AddCommand(newJournalCreateCmd(root))
	cmd.AddCommand(newJournalApplyCmd(root))
	cmd.AddCommand(newJournalCleanCmd(root))
	cmd.AddCommand(newJournalListCmd(root))
	return cmd
}

func newJournalCreateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the journal storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root.cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			output.New(cmd.OutOrStdout()).Successf("Journal ready at %s (%s)", root.cfg.JournalPath(), root.cfg.Journal.Backend)
			return nil
		},
	}
}

func newJournalApplyCmd(root *rootOptions) *cobra.Command {
	var (
		since      string
		only       []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Replay journaled changes",
		Long: `Re-import every id journaled at or after --since. Replay runs in stages
until no newer entries exist and is safe to repeat.

--since accepts an RFC3339 timestamp, a date (2006-01-02) or a duration
that is subtracted from now (24h, 90m).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			from, err := parseTimeArg(since, time.Now())
			if err != nil {
				return err
			}
			return runJournalApply(ctx, cmd, root.cfg, from, only, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Replay entries created at or after this time (default: all)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "Replay only these indexes")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runJournalApply(ctx context.Context, cmd *cobra.Command, cfg *config.Config, since time.Time, only []string, jsonOutput bool) error {
	a, err := openApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	var stats journal.ReplayStats
	err = withLock(ctx, cfg, func() error {
		var replayErr error
		stats, replayErr = a.journal.ApplyChangesFrom(ctx, a.registry, since, only...)
		return replayErr
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd, stats)
	}
	output.New(cmd.OutOrStdout()).Successf("Replayed %d entries in %d stages (%d imports)",
		stats.Entries, stats.Stages, stats.Imports)
	return nil
}

func newJournalCleanCmd(root *rootOptions) *cobra.Command {
	var until string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete old journal entries",
		Long: `Delete journal entries created before --until. --until accepts the same
formats as 'journal apply --since'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := parseTimeArg(until, time.Now())
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), root.cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.journal.CleanUntil(cmd.Context(), to)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted %d entries created before %s", n, to.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&until, "until", "", "Delete entries created before this time")
	_ = cmd.MarkFlagRequired("until")
	return cmd
}

// JournalEntryOutput is one entry of 'journal list --json'.
type JournalEntryOutput struct {
	journal.Entry
	Time time.Time `json:"time"`
}

func newJournalListCmd(root *rootOptions) *cobra.Command {
	var (
		since      string
		only       []string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseTimeArg(since, time.Now())
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), root.cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []JournalEntryOutput
			for e, err := range a.journal.EntriesSince(cmd.Context(), from, only...) {
				if err != nil {
					return err
				}
				entries = append(entries, JournalEntryOutput{Entry: e, Time: e.Time().UTC()})
				if limit > 0 && len(entries) >= limit {
					break
				}
			}

			if jsonOutput {
				return writeJSON(cmd, entries)
			}
			out := output.New(cmd.OutOrStdout())
			if len(entries) == 0 {
				out.Status("📭", "Journal is empty")
				return nil
			}
			for _, e := range entries {
				out.Status("", fmt.Sprintf("%s  %s/%s  %-6s %s",
					humanize.Time(e.Time), e.IndexName, e.TypeName, e.Action, strings.Join(e.ObjectIDs, ",")))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "List entries created at or after this time (default: all)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "List only these indexes")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// parseTimeArg parses an RFC3339 timestamp, a date, or a duration back from
// now. Empty means the zero time.
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if d, err := config.ParseDuration(s); err == nil {
		return now.Add(-d.Std()), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339, YYYY-MM-DD or a duration such as 24h", s)
}
