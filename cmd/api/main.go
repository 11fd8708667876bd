package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiobrand-backend/internal/bootstrap"
	"audiobrand-backend/internal/shared/config"
	"audiobrand-backend/internal/shared/server"
	"audiobrand-backend/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	cfg.Role = "api"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	workersDone := make(chan error, 1)
	if cfg.RunWorkersInline {
		telemetry.Info("api.workers_inline", map[string]any{
			"analysis_concurrency": cfg.AnalysisConcurrency,
			"finalize_concurrency": cfg.FinalizeConcurrency,
		})
		go func() { workersDone <- app.RunWorkers(ctx) }()
	} else {
		close(workersDone)
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting API server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	if err := <-workersDone; err != nil {
		log.Printf("inline workers: %v", err)
	}
}
