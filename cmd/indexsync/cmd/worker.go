package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/async"
	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/output"
)

type workerRequest struct {
	once        bool
	metricsAddr string
	json        bool
}

func newWorkerCmd(root *rootOptions) *cobra.Command {
	var req workerRequest

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run deferred imports from the queue",
		Long: `Consume deferred imports queued by 'indexsync import --strategy deferred'.

Messages are delivered at least once. Connectivity failures put a message
back on the queue; document errors are logged and the message is dropped.
With --once the worker exits when the queue has no ready message.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("metrics-addr") {
				req.metricsAddr = root.cfg.Metrics.Addr
			}
			return runWorker(ctx, cmd, root.cfg, req)
		},
	}

	cmd.Flags().BoolVar(&req.once, "once", false, "Drain ready messages and exit")
	cmd.Flags().StringVar(&req.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&req.json, "json", false, "Output the final progress as JSON")
	return cmd
}

func runWorker(ctx context.Context, cmd *cobra.Command, cfg *config.Config, req workerRequest) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := openApp(ctx, cfg, appOptions{registerer: reg})
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "indexsync_queue_depth",
		Help: "Deferred imports waiting in the queue.",
	}, func() float64 {
		n, err := queue.Len(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	}))

	w, err := async.NewWorker(queue, a.registry, async.WorkerConfig{
		PollInterval: cfg.Queue.PollInterval.Std(),
		RateLimit:    cfg.Queue.RateLimit,
		DedupSize:    cfg.Queue.DedupSize,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryDelay:   cfg.Queue.RetryDelay.Std(),
	})
	if err != nil {
		return err
	}

	if req.metricsAddr != "" {
		shutdown, err := serveMetrics(req.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	err = withLock(ctx, cfg, func() error {
		if req.once {
			return w.Drain(ctx)
		}
		w.Start(ctx)
		<-ctx.Done()
		w.Stop()
		return w.Wait()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	snap := w.Progress().Snapshot()
	if req.json {
		return writeJSON(cmd, snap)
	}
	out := output.New(cmd.OutOrStdout())
	out.Successf("Worker finished")
	out.Counts(map[string]int{
		"processed":  snap.Processed,
		"failed":     snap.Failed,
		"retried":    snap.Retried,
		"duplicates": snap.Duplicates,
		"documents":  snap.Documents,
	})
	return nil
}

// serveMetrics serves reg on addr at /metrics until the returned function
// is called.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	slog.Info("metrics_server_started", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
