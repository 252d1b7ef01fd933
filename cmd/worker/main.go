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

	"github.com/dunamismax/pixeltensor/internal/config"
	"github.com/dunamismax/pixeltensor/internal/pipeline"
	"github.com/dunamismax/pixeltensor/internal/storage"
	"github.com/dunamismax/pixeltensor/internal/store"
	"github.com/dunamismax/pixeltensor/internal/telemetry"
	"github.com/dunamismax/pixeltensor/internal/webhook"
	"github.com/dunamismax/pixeltensor/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixeltensor-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		Access:         cfg.Storage.AccessKey,
		Secret:         cfg.Storage.SecretKey,
		Bucket:         cfg.Storage.Bucket,
		UseSSL:         cfg.Storage.UseSSL,
		MaxObjectBytes: cfg.Storage.MaxObjectBytes,
	})
	if err != nil {
		logger.Fatalf("storage client failed: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("object storage unavailable bucket=%s err=%v", cfg.Storage.Bucket, err)
	}

	jobStore, usageStore, closeStore := openStores(ctx, cfg.Database, logger)
	defer closeStore()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, storageClient, webhookClient, jobStore, usageStore)
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

	// asynq's Run blocks and handles SIGTERM on its own
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, store.UsageStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("POSTGRES_DSN not set, job status updates stay in memory")
		mem := store.NewMemoryJobStore()
		return mem, mem, func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres store failed: %v", err)
	}
	return pg, pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}
