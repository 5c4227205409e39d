// Package main is the entry point for the StockCast API server.
//
// It loads configuration (with SSM secret resolution outside local mode),
// connects to Postgres, wires the quota admission pipeline and the external
// predictor/Stripe clients, and serves the versioned HTTP API through the
// core chassis (middleware, routing, health checks).
//
// When SQS_PREDICT_QUEUE is set, admitted predictions are dispatched to the
// worker fleet and answered 202; otherwise the model call runs inline.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
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
	"golang.org/x/sync/errgroup"

	"stockcast/internal/api/handlers"
	"stockcast/internal/auth"
	"stockcast/internal/config"
	"stockcast/internal/core"
	"stockcast/internal/db"
	"stockcast/internal/external"
	"stockcast/internal/metrics"
	"stockcast/internal/queue"
	"stockcast/internal/quota"
	"stockcast/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("stockcast API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	if cfg.Database.MigrateOnStart {
		if err := db.RunMigrations(cfg.Database.URL.Unmask()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	var (
		admissionMetrics quota.AdmissionMetrics
		requestMetrics   core.MetricsCollector
		webhookMetrics   handlers.WebhookMetrics
	)
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		cw := metrics.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, types.NewSlogLogger(logger))
		admissionMetrics, requestMetrics, webhookMetrics = cw, cw, cw
	} else {
		nop := metrics.NopMetrics{}
		admissionMetrics, requestMetrics, webhookMetrics = nop, nop, nop
	}

	userRepo := db.NewUserRepo(pool)
	predRepo := db.NewPredictionRepo(pool)
	subRepo := db.NewSubscriptionRepo(pool, pool)

	ledger, err := quota.NewLedger(db.NewQuotaStore(pool), types.RealClock{}, cfg.Quota.Timezone)
	if err != nil {
		return fmt.Errorf("creating quota ledger: %w", err)
	}
	rateStore := db.NewRateLimitStore(pool)
	limiter := quota.NewLimiter(rateStore, types.RealClock{})
	janitor := quota.NewJanitor(rateStore, types.RealClock{}, cfg.Quota.WindowPeriod, 0, logger)
	controller := quota.NewController(
		ledger,
		limiter,
		quota.NewPolicyResolver(cfg.Quota),
		admissionMetrics,
		types.NewSlogLogger(logger),
	)

	predictor := external.NewPredictorClient(
		&http.Client{Timeout: cfg.Predictor.Timeout},
		external.PredictorClientConfig{
			BaseURL:    cfg.Predictor.BaseURL,
			APIKey:     cfg.Predictor.APIKey.Unmask(),
			MaxRetries: cfg.Predictor.MaxRetries,
			Logger:     logger,
		},
	)
	billing := external.NewStripeClient(
		&http.Client{Timeout: 30 * time.Second},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			PriceID:   cfg.Billing.StripePriceID,
			Logger:    logger,
		},
	)

	var enqueuer handlers.TaskEnqueuer
	if cfg.AWS.PredictQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		enqueuer = queue.NewPredictTrigger(sqsClient, cfg.AWS.PredictQueueURL, logger)
		logger.Info("prediction dispatch enabled", "queue_url", cfg.AWS.PredictQueueURL)
	} else {
		logger.Info("no predict queue configured, running predictions inline")
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewService(userRepo, logger)
	srv.Metrics = requestMetrics
	srv.HealthProbes = []core.HealthProbe{
		core.HealthProbeFunc{ProbeName: "postgres", CheckFn: pool.Ping},
	}

	predictionHandler := handlers.NewPredictionHandler(controller, predRepo, enqueuer, predictor, logger)
	statusHandler := handlers.NewStatusHandler(userRepo, controller, logger)
	billingHandler := handlers.NewBillingHandler(billing, userRepo, cfg.Server.FrontendURL, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(subRepo, webhookMetrics, cfg.Billing.StripeWebhookSecret.Unmask(), logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		predictionHandler.RegisterRoutes,
		statusHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.WebhookRegistrars = append(srv.WebhookRegistrars, webhookHandler.RegisterRoutes)
	srv.MountRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	return g.Wait()
}

// loadConfig resolves configuration, attaching the SSM provider outside
// local mode where secrets live in Parameter Store.
func loadConfig() (*config.Config, error) {
	if os.Getenv("APP_ENV") == "local" {
		return config.LoadConfig(nil)
	}
	return config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
