package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
}

type APIConfig struct {
	Addr       string
	PresignTTL time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	OutputPrefix   string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	MaxObjectBytes int64
}

type DatabaseConfig struct {
	// DSN selects the PostgreSQL store. Empty keeps jobs in memory.
	DSN string
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type RateLimitConfig struct {
	Enabled      bool
	Capacity     int
	Window       time.Duration
	UserIDHeader string
	KeyPrefix    string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func Load() Config {
	// each conversion holds a float64 copy of the tensor per stage, so the
	// default keeps active jobs well below the cpu count
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:       env("PIXELTENSOR_API_ADDR", ":8080"),
			PresignTTL: envDuration("PIXELTENSOR_PRESIGN_TTL", 15*time.Minute),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "tensors"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.pixeltensor-output"),
			OutputPrefix:   env("WORKER_OUTPUT_PREFIX", "tensors"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:       env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:      env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:      env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:         env("MINIO_BUCKET", "pixeltensor"),
			UseSSL:         envBool("MINIO_USE_SSL", false),
			MaxObjectBytes: int64(envInt("MINIO_MAX_OBJECT_BYTES", 256<<20)),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", false),
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 60),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
			KeyPrefix:    env("RATE_LIMIT_KEY_PREFIX", "pixeltensor:ratelimit"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(env(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(env(key, ""), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(env(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(env(key, ""))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
