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

	"github.com/dunamismax/imageq/internal/bootstrap"
	"github.com/dunamismax/imageq/internal/config"
	"github.com/dunamismax/imageq/internal/pipeline"
	"github.com/dunamismax/imageq/internal/store"
	"github.com/dunamismax/imageq/internal/telemetry"
	"github.com/dunamismax/imageq/internal/webhook"
	"github.com/dunamismax/imageq/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	orchestrator, closeOrchestrator, err := bootstrap.Orchestrator(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("pipeline setup failed: %v", err)
	}
	defer closeOrchestrator()

	fileTask, err := bootstrap.FileTask(cfg, logger)
	if err != nil {
		logger.Fatalf("file task setup failed: %v", err)
	}

	jobStore, closeJobs := openJobStore(ctx, cfg, logger)
	defer closeJobs()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, orchestrator, fileTask, webhookClient, jobStore)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s staging=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Worker.StagingRoot,
	)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Println("shutting down")
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
}

func openJobStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.JobStore, func()) {
	if cfg.API.JobStore != "postgres" {
		logger.Printf("job store=memory; job status is local to this process")
		return store.NewMemoryJobStore(), func() {}
	}
	pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}
}
