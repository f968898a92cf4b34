package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/prism/internal/analysis"
	"github.com/jonathan/prism/internal/scheduler"
)

var workerCommand = &cobra.Command{
	Use:   "worker",
	Short: "Run the analysis worker",
	Long: `Polls the job queue, claims queued jobs and executes them: loads the
file from object storage, consults the analysis cache, calls the AI
provider on a miss and writes the result back. Runs until interrupted;
SIGINT/SIGTERM drain in-flight jobs before exit.`,
	RunE: runWorkerCmd,
}

var (
	workerConcurrency int
	workerID          string
)

func init() {
	workerCommand.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Max jobs executing at once (defaults to MAX_CONCURRENT_JOBS)")
	workerCommand.Flags().StringVar(&workerID, "worker-id", "", "Worker identity for claims (defaults to WORKER_ID or hostname)")
	rootCmd.AddCommand(workerCommand)
}

func runWorkerCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, database, err := connect(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	log := newLogger(cfg)

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	resultCache, err := buildCache(cfg, database)
	if err != nil {
		return err
	}

	providers := analysis.NewRegistry()
	if cfg.GeminiAPIKey != "" {
		gemini, err := analysis.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		defer gemini.Close()
		providers.Register(gemini)
	}
	if len(providers.Names()) == 0 {
		log.Warn("no analysis provider configured, jobs will fail; set GEMINI_API_KEY")
	}

	concurrency := cfg.MaxConcurrentJobs
	if workerConcurrency > 0 {
		concurrency = workerConcurrency
	}
	id := cfg.WorkerID
	if workerID != "" {
		id = workerID
	}

	sched := scheduler.New(scheduler.Config{
		WorkerID:       id,
		PollInterval:   cfg.PollInterval,
		MaxConcurrent:  concurrency,
		StaleAfter:     cfg.StaleJobThreshold,
		AdapterTimeout: cfg.AdapterTimeout,
	}, database, database, database, resultCache, objects, providers, log.WithField("component", "scheduler"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })

	// Opportunistic cleanup of expired cache rows. Reads already filter
	// by expiry, so this only reclaims space.
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n, err := database.PurgeExpiredCache(ctx); err != nil {
					log.WithError(err).Warn("cache purge failed")
				} else if n > 0 {
					log.WithField("purged", n).Debug("purged expired cache entries")
				}
			}
		}
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			log.WithField("addr", cfg.MetricsAddr).Info("metrics listener started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
