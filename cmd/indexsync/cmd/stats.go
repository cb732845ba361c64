package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/telemetry"
)

// StatsOutput is the JSON output of the stats command.
type StatsOutput struct {
	From    string                  `json:"from"`
	To      string                  `json:"to"`
	Imports []telemetry.ImportCount `json:"imports"`
	Replays []telemetry.ReplayEvent `json:"replays"`
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show import and replay statistics",
		Long: `Display documents imported per index and action over the last days,
and the most recent journal replay stages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, root.cfg, days, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

func runStats(cmd *cobra.Command, cfg *config.Config, days int, jsonOutput bool) error {
	if days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	db, err := store.OpenSQLite(cfg.StatsPath())
	if err != nil {
		return fmt.Errorf("failed to open stats database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := telemetry.InitStatsSchema(db); err != nil {
		return err
	}
	stats, err := telemetry.NewSQLiteStatsStore(db)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	out := StatsOutput{
		From: now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly),
		To:   now.Format(time.DateOnly),
	}
	if out.Imports, err = stats.GetImportCounts(out.From, out.To); err != nil {
		return err
	}
	if out.Replays, err = stats.GetReplayStages(10); err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd, out)
	}
	printStatsFormatted(cmd, out)
	return nil
}

func printStatsFormatted(cmd *cobra.Command, out StatsOutput) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Import Statistics (%s to %s)\n", out.From, out.To)
	fmt.Fprintln(w, "==========================================")
	fmt.Fprintln(w)

	if len(out.Imports) == 0 {
		fmt.Fprintln(w, "Imports: (none recorded yet)")
	} else {
		for _, c := range out.Imports {
			fmt.Fprintf(w, "  %-20s %-7s %12s", c.Index, c.Action, humanize.Comma(c.Count))
			if c.Failed > 0 {
				fmt.Fprintf(w, "  (%s failed)", humanize.Comma(c.Failed))
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)

	if len(out.Replays) == 0 {
		fmt.Fprintln(w, "Recent Replay Stages: (none)")
		return
	}
	fmt.Fprintln(w, "Recent Replay Stages:")
	for _, r := range out.Replays {
		fmt.Fprintf(w, "  - %s: %d entries %v\n", r.Stage, r.EntryCount, r.IndexList)
	}
}
