package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/preflight"
)

// errDoctorFailed is returned when a required check fails.
var errDoctorFailed = errors.New("system check failed")

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics to ensure indexsync can operate on this project.

Checks:
  - Disk space under the data directory (100MB minimum)
  - Write permissions in the data directory
  - File descriptor limits (1024 minimum)
  - Source database integrity and index tables
  - Data directory lock

A missing source database or table and a held lock are warnings.`,
		Example: `  # Run diagnostics
  indexsync doctor

  # JSON output for scripting
  indexsync doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, root.cfg, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, cfg *config.Config, verbose, jsonOutput bool) error {
	target := preflight.Target{
		DataDir:    cfg.DataDir,
		SourcePath: cfg.Source.Path,
		LockPath:   cfg.LockPath(),
	}
	for _, ic := range cfg.Indexes {
		target.Tables = append(target.Tables, ic.TableName())
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	previous, hadPassed := preflight.LastPassed(cfg.DataDir)
	results := checker.RunAll(cmd.Context(), target)
	failed := checker.HasCriticalFailures(results)

	if failed {
		if err := preflight.ClearMarker(cfg.DataDir); err != nil {
			slog.Warn("doctor_marker_failed", slog.String("error", err.Error()))
		}
	} else if err := preflight.MarkPassed(cfg.DataDir, time.Now()); err != nil {
		slog.Warn("doctor_marker_failed", slog.String("error", err.Error()))
	}

	if jsonOutput {
		if err := writeJSON(cmd, checker.Report(results)); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
		if hadPassed {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s\n", humanize.Time(previous))
		}
	}

	if failed {
		return errDoctorFailed
	}
	return nil
}
