package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var statsInterval time.Duration

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a summarization worker replica against the shared queue",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().DurationVar(&statsInterval, "stats-interval", time.Minute, "how often pool counters are logged (0 disables)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := setupRuntime(ctx, cfg, logger)
	defer rt.Close()

	pool := newPool(cfg, rt, logger)
	if statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stats := pool.Stats()
					logger.Info().
						Int64("batches", stats.Batches).
						Int64("processed", stats.Processed).
						Int64("completed", stats.Completed).
						Int64("failed", stats.Failed).
						Int64("noop", stats.Noop).
						Int64("retried", stats.Retried).
						Int64("errors", stats.Errors).
						Int64("max_in_flight", stats.MaxInFlight).
						Msg("worker stats")
				}
			}
		}()
	}

	logger.Info().
		Int("workers", cfg.WorkerConcurrency).
		Int("batch_size", cfg.WorkerBatchSize).
		Msg("worker pool started")
	pool.Run(ctx)
	logger.Info().Msg("worker pool stopped")
	return nil
}
