package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/UniQw/adaptq-go/internal/config"
	"github.com/UniQw/adaptq-go/internal/httpjob"
	"github.com/UniQw/adaptq-go/journal"
	"github.com/UniQw/adaptq-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var jobsPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of jobs until it drains",
	RunE:  runJobs,
}

func init() {
	runCmd.Flags().StringVar(&jobsPath, "jobs", "jobs.jsonl", `JSON-lines job file ("-" for stdin)`)
	rootCmd.AddCommand(runCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return err
	}
	jobs, err := readJobsFile(jobsPath)
	if err != nil {
		slog.Error("Failed to read jobs", "error", err)
		return err
	}

	j, closeJournal, err := openJournal(cfg.Journal, log)
	if err != nil {
		slog.Error("Failed to open journal", "error", err)
		return err
	}
	defer closeJournal()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := runBatch(ctx, cfg, j, jobs, log)
	slog.Info("Batch finished",
		"completed", state.Completed,
		"failed", state.Failed,
		"cancelled", state.Cancelled,
		"retried", state.Retried,
	)
	if err != nil {
		return err
	}
	if state.Failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", state.Failed, state.Total)
	}
	return nil
}

// runBatch runs jobs to completion, or cancels them when ctx is done.
func runBatch(ctx context.Context, cfg *config.AppConfig, j journal.Journal, jobs []adaptq.Job, log adaptq.Logger) (adaptq.QueueState, error) {
	breakers := adaptq.NewBreakers(cfg.Breaker.Adaptq(), adaptq.WithBreakerLogger(log))
	mux := adaptq.NewMux()
	if err := httpjob.Register(mux, breakers, &http.Client{}, cfg.Handlers, log); err != nil {
		return adaptq.QueueState{}, err
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	collector.WatchBreakers(breakers)

	opts := append(cfg.Queue.Options(),
		adaptq.WithLogger(log),
		adaptq.WithHooks(collector.Hooks()),
		adaptq.WithHooks(progressHooks()),
	)
	if j != nil {
		opts = append(opts, adaptq.WithHooks(journal.Hooks(j, cfg.Queue.Name, log, retention(cfg.Journal)...)))
		janitor := journal.NewJanitor(j, cfg.Journal.PurgeInterval, log)
		janitor.Start()
		defer janitor.Stop()
	}

	q := adaptq.NewQueue(mux.Processor(), opts...)
	defer q.Close()
	collector.Watch(q)

	if cfg.Metrics.Addr != "" {
		srv := metricsServer(cfg.Metrics.Addr, collector)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("Serving metrics", "addr", cfg.Metrics.Addr)
	}

	q.AddJobs(jobs)
	slog.Info("Batch started", "queue", cfg.Queue.Name, "jobs", len(jobs), "concurrency", cfg.Queue.Concurrency)

	if err := q.Wait(ctx); err != nil {
		slog.Warn("Interrupted, cancelling remaining jobs", "reason", err)
		q.CancelAll()
	}
	q.Close()
	return q.State(), nil
}

func metricsServer(addr string, c prometheus.Collector) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// progressHooks logs job outcomes and batch progress.
func progressHooks() adaptq.Hooks {
	return adaptq.Hooks{
		OnJobError: func(job *adaptq.Job, err error) {
			slog.Warn("Job failed", "id", job.ID, "type", job.Type, "kind", adaptq.Classify(err), "error", err)
		},
		OnProgress: func(completed, total, active int) {
			slog.Debug("Progress", "completed", completed, "total", total, "active", active)
		},
		OnQueueEmpty: func() {
			slog.Info("Queue drained")
		},
	}
}
