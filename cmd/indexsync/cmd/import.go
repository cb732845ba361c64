package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/async"
	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/output"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/strategy"
)

// importFlags are the import option overrides shared by import and sync.
type importFlags struct {
	batchSize int
	parallel  int
	journal   bool
	fields    []string
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Records fetched per round (default from config)")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "Parallel import workers (default from config)")
	cmd.Flags().BoolVar(&f.journal, "journal", false, "Journal accepted actions for replay")
	cmd.Flags().StringSliceVar(&f.fields, "fields", nil, "Only update these fields of existing documents")
}

// options returns the overrides for the flags set on cmd.
func (f *importFlags) options(cmd *cobra.Command) []index.Option {
	var opts []index.Option
	if cmd.Flags().Changed("batch-size") {
		opts = append(opts, index.WithBatchSize(f.batchSize))
	}
	if cmd.Flags().Changed("parallel") {
		opts = append(opts, index.WithParallel(f.parallel))
	}
	if cmd.Flags().Changed("journal") {
		opts = append(opts, index.WithJournal(f.journal))
	}
	if len(f.fields) > 0 {
		opts = append(opts, index.WithUpdateFields(f.fields...))
	}
	return opts
}

// ImportOutput is the JSON output of the import command.
type ImportOutput struct {
	Index    string         `json:"index"`
	Strategy string         `json:"strategy,omitempty"`
	IDs      int            `json:"ids,omitempty"`
	Success  bool           `json:"success"`
	Stats    map[string]int `json:"stats,omitempty"`
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var (
		all        bool
		strategyFl string
		jsonOutput bool
		flags      importFlags
	)

	cmd := &cobra.Command{
		Use:   "import <index> [ids...]",
		Short: "Import records into an index",
		Long: `Import records from the source into an index.

With --all every record is imported and deleted records are removed.
Otherwise the given ids are routed through an update strategy:
  urgent     import immediately (default from config)
  atomic     collect all ids and import once at the end
  deferred   queue the ids for 'indexsync worker'
  bypass     skip indexing`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			name := strategyFl
			if name == "" {
				name = root.cfg.Import.Strategy
			}
			return runImport(ctx, cmd, root, importRequest{
				index:    args[0],
				ids:      args[1:],
				all:      all,
				strategy: name,
				opts:     flags.options(cmd),
				json:     jsonOutput,
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Import every record of the index")
	cmd.Flags().StringVar(&strategyFl, "strategy", "", "Update strategy for the given ids: urgent, atomic, deferred, bypass")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	flags.register(cmd)
	cmd.MarkFlagsMutuallyExclusive("all", "strategy")

	return cmd
}

type importRequest struct {
	index    string
	ids      []string
	all      bool
	strategy string
	opts     []index.Option
	json     bool
}

func runImport(ctx context.Context, cmd *cobra.Command, root *rootOptions, req importRequest) error {
	if req.all && len(req.ids) > 0 {
		return fmt.Errorf("--all cannot be combined with ids")
	}
	if !req.all && len(req.ids) == 0 {
		return fmt.Errorf("no ids given; use --all to import every record")
	}

	a, err := openApp(ctx, root.cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	idx, err := a.registry.Get(req.index)
	if err != nil {
		return err
	}

	if req.all {
		return importAll(ctx, cmd, idx, req)
	}
	return importThroughStrategy(ctx, cmd, a, idx, req)
}

func importAll(ctx context.Context, cmd *cobra.Command, idx *index.Index, req importRequest) error {
	res, err := idx.ImportStrict(ctx, store.All(), req.opts...)
	if res == nil {
		return err
	}

	stats := make(map[string]int, len(res.Stats))
	for action, n := range res.Stats {
		stats[string(action)] = n
	}

	if req.json {
		if encErr := writeJSON(cmd, ImportOutput{Index: idx.Name(), Success: res.Success, Stats: stats}); encErr != nil {
			return encErr
		}
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if res.Success {
		out.Successf("Imported %s", idx.Name())
	} else {
		out.Warningf("Imported %s with %d failed documents", idx.Name(), res.Errors.Len())
	}
	out.Counts(stats)
	return err
}

func importThroughStrategy(ctx context.Context, cmd *cobra.Command, a *app, idx *index.Index, req importRequest) error {
	var dispatcher async.Dispatcher
	if req.strategy == strategy.NameDeferred {
		q, err := a.openQueue(ctx)
		if err != nil {
			return err
		}
		dispatcher = q
	}

	policy, err := strategy.NewRegistry(dispatcher).New(req.strategy)
	if err != nil {
		return err
	}

	stack := strategy.NewStack()
	err = stack.Wrap(ctx, policy, func(ctx context.Context) error {
		return stack.Update(ctx, idx, req.ids, req.opts...)
	})
	if err != nil {
		return err
	}

	if req.json {
		return writeJSON(cmd, ImportOutput{Index: idx.Name(), Strategy: req.strategy, IDs: len(req.ids), Success: true})
	}

	out := output.New(cmd.OutOrStdout())
	switch req.strategy {
	case strategy.NameDeferred:
		out.Successf("Queued %d ids for %s", len(req.ids), idx.Name())
	case strategy.NameBypass:
		out.Statusf("⏭️ ", "Skipped %d ids for %s", len(req.ids), idx.Name())
	default:
		out.Successf("Updated %d ids in %s", len(req.ids), idx.Name())
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
