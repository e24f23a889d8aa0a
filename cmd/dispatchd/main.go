package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dispatchd/internal/config"
	"dispatchd/internal/constants"
	"dispatchd/internal/database"
	"dispatchd/internal/models"
	"dispatchd/internal/queue"
	"dispatchd/internal/retry"
	"dispatchd/internal/service"
	"dispatchd/internal/tracing"
	"dispatchd/pkg/providers"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose = flag.Bool("verbose", false, "Enable verbose logging")
	version = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("dispatchd %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting dispatchd")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    "dispatchd",
		ServiceVersion: Version,
		Environment:    os.Getenv("ENVIRONMENT"),
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Connect to the event store with bounded backoff; the queue and DB may
	// come up after the workers in orchestrated deployments.
	var pool *pgxpool.Pool
	err = retry.Retry(ctx, retry.Policy{
		MaxAttempts: constants.DefaultDatabaseRetryAttempts,
		BaseDelay:   time.Duration(constants.DefaultDatabaseBackoffMs) * time.Millisecond,
		MaxDelay:    time.Duration(constants.DefaultDatabaseMaxBackoffMs) * time.Millisecond,
		MaxJitter:   time.Duration(constants.DefaultDatabaseBackoffMs) * time.Millisecond,
	}, func() error {
		var connErr error
		pool, connErr = database.Connect(ctx, cfg.Database.URL)
		if connErr != nil {
			logger.Warnf("Failed to connect to database: %v", connErr)
		}
		return connErr
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database after retries: %w", err)
	}
	defer pool.Close()

	store := database.New(pool)
	if err := store.Setup(ctx); err != nil {
		return fmt.Errorf("failed to set up event store schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	dispatchQueue := queue.New(rdb, cfg.Queue.Stream, cfg.Queue.Group)
	if err := dispatchQueue.Setup(ctx); err != nil {
		return fmt.Errorf("failed to set up dispatch queue: %w", err)
	}

	registry := buildAdapterRegistry()

	fallback := service.NewFallbackSelector(store, cfg.Fallback.MaxIdentities, logger)
	processor := service.NewProcessor(store, dispatchQueue, registry, fallback, retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxJitter:   cfg.Retry.MaxJitter,
	}, logger)
	defer processor.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "dispatchd"
	}

	var wg sync.WaitGroup
	workers := make([]*service.Worker, 0, cfg.Queue.WorkerCount)
	for i := 0; i < cfg.Queue.WorkerCount; i++ {
		worker := service.NewWorker(dispatchQueue, processor, service.WorkerOptions{
			Consumer:     fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
			ReadCount:    int64(cfg.Queue.ReadCount),
			ReadBlock:    cfg.Queue.ReadBlock,
			ClaimMinIdle: cfg.Queue.ClaimMinIdle,
			ClaimEvery:   cfg.Queue.ClaimEvery,
		}, logger)
		workers = append(workers, worker)

		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Start(ctx)
		}()
	}
	logger.WithField("workers", len(workers)).Info("Dispatch workers started")

	sweeper := service.NewSweeper(store, dispatchQueue, service.SweeperOptions{
		Interval:      cfg.Sweep.Interval,
		BatchSize:     cfg.Sweep.BatchSize,
		StuckTimeout:  cfg.Sweep.StuckTimeout,
		OrphanMinAge:  cfg.Sweep.OrphanMinAge,
		OrphanMaxAge:  cfg.Sweep.OrphanMaxAge,
		PendingLookup: constants.DefaultQueuePendingLookup,
	}, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	server := NewServer(cfg.Server.Address, store, dispatchQueue, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	wg.Wait()
	logger.Info("Shutdown completed")
	return nil
}

// buildAdapterRegistry wires the adapters shipped with the binary. Real
// provider adapters (SES, SNS, WhatsApp Business, Discord) register against
// the same contract from their own modules; the generic webhook adapter
// covers every channel for deployments that route through an HTTP relay.
func buildAdapterRegistry() *providers.Registry {
	registry := providers.NewRegistry()
	webhook := providers.NewWebhookAdapter(10 * time.Second)
	for _, channel := range []models.Channel{
		models.ChannelEmail,
		models.ChannelSMS,
		models.ChannelWhatsApp,
		models.ChannelDiscord,
	} {
		registry.Register(models.ProviderWebhook, channel, webhook)
	}
	return registry
}
