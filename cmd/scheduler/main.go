// Package main is the standalone lead lifecycle scheduler runner for
// deployments that split the API surface from the background jobs. It wires
// the same lifecycle services as the API binary but serves no HTTP routes.
//
// With -once the runner executes every job a single time and exits with a
// non-zero status if any job failed; this is the entry point for manual
// backfills and cron-style container schedulers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"brokerdesk/internal/config"
	"brokerdesk/internal/db"
	"brokerdesk/internal/metrics"
	"brokerdesk/internal/notifications"
	"brokerdesk/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("brokerdesk scheduler starting",
		"environment", cfg.Environment,
		"once", once,
	)

	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	userRepo := db.NewUserRepository(pool)
	storyRepo := db.NewStoryRepository(pool)
	fetchConfigRepo := db.NewFetchConfigRepository(pool)

	var publisher scheduler.NotificationPublisher
	var emitter scheduler.MetricsEmitter
	if cfg.AWS.NotificationQueue != "" || cfg.AWS.MetricNamespace != "" {
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if awsErr != nil {
			return fmt.Errorf("loading AWS configuration: %w", awsErr)
		}
		if cfg.AWS.NotificationQueue != "" {
			client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			publisher = notifications.NewPublisher(client, cfg.AWS, logger)
		}
		if cfg.AWS.MetricNamespace != "" {
			client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			emitter = metrics.NewCloudWatchEmitter(client, cfg.AWS, logger)
		}
	}

	resolver := scheduler.NewConfigResolver(fetchConfigRepo, userRepo, logger)
	lifecycle := scheduler.NewLifecycleService(
		db.NewLifecycleStore(pool),
		storyRepo,
		userRepo,
		resolver,
		publisher,
		logger,
		cfg.Scheduler.BatchLimit,
	)
	stats := scheduler.NewStatsService(db.NewStatsStore(pool), emitter, publisher, logger)

	driver, err := scheduler.NewDriver(lifecycle, stats, nil, logger)
	if err != nil {
		return fmt.Errorf("building scheduler driver: %w", err)
	}
	driver.UseJobLock(db.NewJobLockRepository(pool), workerID())
	driver.UseRunRecorder(db.NewJobRunRepository(pool))

	if once {
		summary := driver.RunAll(ctx)
		if len(summary.JobErrors) > 0 {
			for job, msg := range summary.JobErrors {
				logger.Error("job failed", "job", job, "error", msg)
			}
			return fmt.Errorf("%d of %d jobs failed", len(summary.JobErrors), len(summary.Runs))
		}
		logger.Info("all jobs completed", "jobs", len(summary.Runs))
		return nil
	}

	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler driver: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutdown signal received", "signal", sig.String())

	if err := driver.Stop(ctx); err != nil {
		return fmt.Errorf("stopping scheduler driver: %w", err)
	}
	logger.Info("scheduler stopped cleanly")
	return nil
}

// workerID identifies this process for the distributed job lock.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
