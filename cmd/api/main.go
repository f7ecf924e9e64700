package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imageq/internal/api"
	"github.com/dunamismax/imageq/internal/config"
	"github.com/dunamismax/imageq/internal/queue"
	"github.com/dunamismax/imageq/internal/ratelimit"
	"github.com/dunamismax/imageq/internal/store"
	"github.com/dunamismax/imageq/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-api",
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var jobStore store.JobStore = store.NewMemoryJobStore()
	if cfg.API.JobStore == "postgres" {
		pg, err := store.NewPostgresJobStore(context.Background(), cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("job store setup failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	}

	opts := api.Options{}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Limits{
			Capacity: int64(cfg.RateLimit.Capacity),
			Window:   cfg.RateLimit.Window,
			Prefix:   cfg.RateLimit.Prefix,
		})
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	app := api.NewServer(logger, queueClient, jobStore, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
