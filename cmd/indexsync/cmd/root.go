// Package cmd provides the CLI commands for indexsync.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/config"
	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/logging"
	"github.com/Aman-CERP/indexsync/internal/profiling"
	"github.com/Aman-CERP/indexsync/pkg/version"
)

// skipSetup marks commands that run without configuration or logging.
const skipSetup = "skip-setup"

// rootOptions carries the persistent flags and the state they produce.
type rootOptions struct {
	configPath string
	dir        string
	logLevel   string
	logFile    string
	profile    profiling.Options

	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the indexsync CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "indexsync",
		Short: "Keep search indexes in sync with their source records",
		Long: `indexsync imports records from a SQLite source into Bleve indexes.

It journals accepted changes for replay after failures, repairs drift
between source and index, and runs deferred imports from a durable queue.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("indexsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file (default: <dir>/.indexsync.yaml)")
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", ".", "Project directory")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write JSON logs to this file with rotation")

	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if c.Annotations[skipSetup] != "true" {
			if err := opts.setup(); err != nil {
				return err
			}
		}
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return opts.teardown()
	}

	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newJournalCmd(opts))
	cmd.AddCommand(newWorkerCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads the configuration and installs the default logger.
func (o *rootOptions) setup() error {
	dir, err := filepath.Abs(o.dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}

	var cfg *config.Config
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return err
	}
	cfg.ResolvePaths(dir)

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFile != "" {
		cfg.Logging.File = o.logFile
	}
	if err := cfg.Validate(); err != nil {
		return syncerr.ConfigError("invalid configuration", err)
	}

	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxBackups,
		WriteToStderr: cfg.Logging.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	o.cfg = cfg
	o.loggingCleanup = cleanup
	return nil
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return err
	}
	o.profiler = s
	return nil
}

// teardown writes pending profiles and closes the log file.
func (o *rootOptions) teardown() error {
	err := o.profiler.Stop()
	o.profiler = nil
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	if err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// Execute runs the root command and prints failures to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		printError(os.Stderr, err)
	}
	return err
}

// printError renders err for the terminal. Import failures also list the
// failing actions and error signatures.
func printError(w io.Writer, err error) {
	_, _ = fmt.Fprint(w, syncerr.FormatForCLI(err))

	var failed *index.ImportFailedError
	if errors.As(err, &failed) {
		for _, line := range strings.Split(failed.Errors.String(), "\n") {
			if line != "" {
				_, _ = fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}
}
