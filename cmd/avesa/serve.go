package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avesa-io/avesa/internal/backfill"
	"github.com/avesa-io/avesa/internal/httpserver"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/orchestrator"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic ingestion scheduler alongside the /health and /metrics HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			scheduler := backfill.NewScheduler(p.orch, cfg.ScheduleInterval, orchestrator.RunRequest{
				RunKind:        model.RunKindScheduled,
				Concurrency:    concurrencyFromConfig(),
				ChunkDuration:  cfg.ChunkDuration,
				ChunkTimeout:   cfg.ChunkTimeout,
				JobTimeout:     cfg.JobTimeout,
				ClockSkewGuard: cfg.ClockSkewGuard,
			})
			scheduler.Start(ctx)
			defer scheduler.Stop()

			srv := httpserver.New(p.store)
			go func() {
				if err := srv.Run(cfg.MetricsAddr); err != nil {
					slog.Error("http server exited", "error", err)
				}
			}()

			slog.Info("avesa serve started", "metrics_addr", cfg.MetricsAddr)
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}
	return cmd
}
