package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dispatchd/internal/constants"
	apperrors "dispatchd/internal/errors"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Retry    RetryConfig
	Fallback FallbackConfig
	Sweep    SweepConfig
	Tracing  TracingConfig
	LogLevel string
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Stream       string
	Group        string
	WorkerCount  int
	ReadCount    int
	ReadBlock    time.Duration
	ClaimMinIdle time.Duration
	ClaimEvery   time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
}

type FallbackConfig struct {
	// MaxIdentities bounds the number of distinct provider identities
	// attempted per message before the pipeline gives up.
	MaxIdentities int
}

type SweepConfig struct {
	Interval     time.Duration
	BatchSize    int
	StuckTimeout time.Duration
	OrphanMinAge time.Duration
	OrphanMaxAge time.Duration
}

type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	UseStdout    bool
	SampleRate   float64
}

// Load reads configuration from the environment. Unset options fall back to
// the defaults in internal/constants; DATABASE_URL and REDIS_ADDR are
// required.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", constants.DefaultServerAddress),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Stream:       getEnv("QUEUE_STREAM", constants.DefaultQueueStream),
			Group:        getEnv("QUEUE_GROUP", constants.DefaultQueueGroup),
			WorkerCount:  getEnvInt("WORKER_COUNT", constants.DefaultWorkerCount),
			ReadCount:    getEnvInt("QUEUE_READ_COUNT", constants.DefaultQueueReadCount),
			ReadBlock:    getEnvMs("QUEUE_READ_BLOCK_MS", constants.DefaultQueueReadBlockMs),
			ClaimMinIdle: getEnvMs("QUEUE_CLAIM_MIN_IDLE_MS", constants.DefaultQueueClaimIdleMs),
			ClaimEvery:   getEnvMs("QUEUE_CLAIM_EVERY_MS", constants.DefaultQueueClaimEveryMs),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("MAX_RETRY_ATTEMPTS", constants.DefaultMaxRetryAttempts),
			BaseDelay:   getEnvMs("RETRY_BASE_DELAY_MS", constants.DefaultRetryBaseDelayMs),
			MaxDelay:    getEnvMs("RETRY_MAX_DELAY_MS", constants.DefaultRetryMaxDelayMs),
			MaxJitter:   getEnvMs("RETRY_MAX_JITTER_MS", constants.DefaultRetryMaxJitterMs),
		},
		Fallback: FallbackConfig{
			MaxIdentities: getEnvInt("MAX_FALLBACK_IDENTITIES", constants.DefaultMaxFallbackIdentities),
		},
		Sweep: SweepConfig{
			Interval:     getEnvMs("SWEEP_INTERVAL_MS", constants.DefaultSweepIntervalMs),
			BatchSize:    getEnvInt("SWEEP_BATCH_SIZE", constants.DefaultSweepBatchSize),
			StuckTimeout: getEnvMs("STUCK_PROCESSING_TIMEOUT_MS", constants.DefaultStuckProcessingMs),
			OrphanMinAge: getEnvMs("ORPHAN_MIN_AGE_MS", constants.DefaultOrphanMinAgeMs),
			OrphanMaxAge: getEnvMs("ORPHAN_MAX_AGE_MS", constants.DefaultOrphanMaxAgeMs),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4318"),
			UseStdout:    getEnvBool("TRACING_STDOUT", true),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return apperrors.New(apperrors.ErrCodeMissingConfig, "DATABASE_URL is required")
	}
	if cfg.Redis.Addr == "" {
		return apperrors.New(apperrors.ErrCodeMissingConfig, "REDIS_ADDR is required")
	}
	if cfg.Queue.WorkerCount <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "WORKER_COUNT must be > 0")
	}
	if cfg.Queue.ReadCount <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "QUEUE_READ_COUNT must be > 0")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "MAX_RETRY_ATTEMPTS must be > 0")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "RETRY_BASE_DELAY_MS must be > 0")
	}
	if cfg.Fallback.MaxIdentities <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "MAX_FALLBACK_IDENTITIES must be > 0")
	}
	if cfg.Sweep.BatchSize <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "SWEEP_BATCH_SIZE must be > 0")
	}
	if cfg.Sweep.OrphanMinAge >= cfg.Sweep.OrphanMaxAge {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "ORPHAN_MIN_AGE_MS must be below ORPHAN_MAX_AGE_MS")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Sprintf("invalid bool for env %s: %s", key, v))
	}
	return b
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid float for env %s: %s", key, v))
	}
	return f
}

func getEnvMs(key string, defMs int) time.Duration {
	return time.Duration(getEnvInt(key, defMs)) * time.Millisecond
}
