// Package main is the entry point for the brokerdesk API server.
//
// It loads configuration, opens the PostgreSQL pool and AWS clients, wires
// the repositories, external clients, and lead lifecycle scheduler into the
// HTTP chassis, and serves until interrupted.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"brokerdesk/internal/api/handlers"
	"brokerdesk/internal/auth"
	"brokerdesk/internal/config"
	"brokerdesk/internal/core"
	"brokerdesk/internal/db"
	"brokerdesk/internal/external"
	"brokerdesk/internal/metrics"
	"brokerdesk/internal/notifications"
	"brokerdesk/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("brokerdesk API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(func() error {
		pool.Close()
		return nil
	})
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})

	// Repositories.
	leadRepo := db.NewLeadRepository(pool)
	assignmentRepo := db.NewAssignmentRepository(pool)
	storyRepo := db.NewStoryRepository(pool)
	userRepo := db.NewUserRepository(pool)
	fetchConfigRepo := db.NewFetchConfigRepository(pool)
	paymentRepo := db.NewPaymentRepository(pool)

	// AWS-backed infrastructure. Publisher and emitter stay nil when their
	// resources are not configured; consumers treat both as best-effort.
	var publisher *notifications.Publisher
	var emitter scheduler.MetricsEmitter
	if cfg.AWS.NotificationQueue != "" || cfg.AWS.MetricNamespace != "" {
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if awsErr != nil {
			return fmt.Errorf("loading AWS configuration: %w", awsErr)
		}
		if cfg.AWS.NotificationQueue != "" {
			publisher = notifications.NewPublisher(sqsClient(awsCfg, cfg.AWS), cfg.AWS, logger)
		}
		if cfg.AWS.MetricNamespace != "" {
			emitter = metrics.NewCloudWatchEmitter(cloudwatchClient(awsCfg, cfg.AWS), cfg.AWS, logger)
		}
	}

	// Lead lifecycle scheduler.
	resolver := scheduler.NewConfigResolver(fetchConfigRepo, userRepo, logger)
	var lifecyclePublisher scheduler.NotificationPublisher
	if publisher != nil {
		lifecyclePublisher = publisher
	}
	lifecycle := scheduler.NewLifecycleService(
		db.NewLifecycleStore(pool),
		storyRepo,
		userRepo,
		resolver,
		lifecyclePublisher,
		logger,
		cfg.Scheduler.BatchLimit,
	)
	stats := scheduler.NewStatsService(db.NewStatsStore(pool), emitter, lifecyclePublisher, logger)

	driver, err := scheduler.NewDriver(lifecycle, stats, nil, logger)
	if err != nil {
		return fmt.Errorf("building scheduler driver: %w", err)
	}
	driver.UseJobLock(db.NewJobLockRepository(pool), workerID())
	driver.UseRunRecorder(db.NewJobRunRepository(pool))

	if !cfg.Scheduler.Disabled {
		if err := driver.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler driver: %w", err)
		}
		srv.OnShutdown(func() error {
			return driver.Stop(context.Background())
		})
	}

	// External clients.
	var gateway external.PaymentGateway
	if cfg.Gateway.StripeSecretKey.Unmask() != "" {
		gateway = external.NewStripeClient(nil, external.StripeClientConfig{
			SecretKey:     cfg.Gateway.StripeSecretKey,
			WebhookSecret: cfg.Gateway.StripeWebhookSecret,
			Logger:        logger,
		})
	}
	var messenger external.MessageSender
	if cfg.WhatsApp.BaseURL != "" {
		messenger = external.NewWhatsAppClient(cfg.WhatsApp, logger)
	}
	var quotes external.QuoteProvider
	if cfg.Market.BaseURL != "" {
		quotes = external.NewMarketDataClient(
			&http.Client{Timeout: cfg.Market.Timeout},
			cfg.Market.BaseURL,
			cfg.Market.APIKey,
			logger,
		)
	}

	// Handlers.
	leadHandler := handlers.NewLeadHandler(
		leadRepo, assignmentRepo, storyRepo, userRepo, fetchConfigRepo,
		quotes, nil, srv.Validator, logger,
	)
	fetchConfigHandler := handlers.NewFetchConfigHandler(fetchConfigRepo, srv.Validator, logger)
	schedulerHandler := handlers.NewSchedulerHandler(driver, logger)
	reportHandler := handlers.NewReportHandler(leadRepo, logger)

	authService := auth.NewService(auth.ServiceConfig{Users: userRepo, Logger: logger})
	authHandler := handlers.NewAuthHandler(authService, srv.Validator, logger)

	var paymentPublisher handlers.NotificationPublisher
	if publisher != nil {
		paymentPublisher = publisher
	}
	paymentHandler := handlers.NewPaymentHandler(handlers.PaymentHandlerConfig{
		Payments:  paymentRepo,
		Leads:     leadRepo,
		Stories:   storyRepo,
		Gateway:   gateway,
		Messenger: messenger,
		Publisher: paymentPublisher,
		Validator: srv.Validator,
		Logger:    logger,
	})

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		leadHandler.RegisterRoutes,
		fetchConfigHandler.RegisterRoutes,
		schedulerHandler.RegisterRoutes,
		reportHandler.RegisterRoutes,
		authHandler.RegisterRoutes,
		paymentHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// openPool builds the pgx connection pool from the database configuration.
func openPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// sqsClient builds the SQS client, honoring the LocalStack endpoint override.
func sqsClient(awsCfg aws.Config, c config.AWSConfig) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if c.EndpointURL != "" {
			o.BaseEndpoint = aws.String(c.EndpointURL)
		}
	})
}

// cloudwatchClient builds the CloudWatch client, honoring the LocalStack
// endpoint override.
func cloudwatchClient(awsCfg aws.Config, c config.AWSConfig) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if c.EndpointURL != "" {
			o.BaseEndpoint = aws.String(c.EndpointURL)
		}
	})
}

// workerID identifies this process for the scheduler's distributed job lock.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger for the given log level.
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
