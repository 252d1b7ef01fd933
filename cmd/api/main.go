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

	"github.com/dunamismax/pixeltensor/internal/api"
	"github.com/dunamismax/pixeltensor/internal/config"
	"github.com/dunamismax/pixeltensor/internal/queue"
	"github.com/dunamismax/pixeltensor/internal/ratelimit"
	"github.com/dunamismax/pixeltensor/internal/storage"
	"github.com/dunamismax/pixeltensor/internal/store"
	"github.com/dunamismax/pixeltensor/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixeltensor-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

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

	var jobStore store.JobStore
	if cfg.Database.DSN == "" {
		logger.Printf("POSTGRES_DSN not set, using in-memory job store")
		jobStore = store.NewMemoryJobStore()
	} else {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres store failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	}

	opts := api.Options{
		PresignTTL:   cfg.API.PresignTTL,
		UserIDHeader: cfg.RateLimit.UserIDHeader,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	app := api.NewServer(logger, queueClient, jobStore, storageClient, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown error: %v", err)
	}
}
