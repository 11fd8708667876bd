package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"audiobrand-backend/internal/bootstrap"
	"audiobrand-backend/internal/shared/config"
	"audiobrand-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	cfg.Role = "worker"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	telemetry.Info("worker.process.started", map[string]any{
		"analysis_concurrency": cfg.AnalysisConcurrency,
		"finalize_concurrency": cfg.FinalizeConcurrency,
		"sqs":                  cfg.SQSAnalysisQueueURL != "" || cfg.SQSFinalizeQueueURL != "",
	})
	err = app.RunWorkers(ctx)
	telemetry.Info("worker.process.stopped", nil)
	return err
}
