// Package main is the entry point for the prediction worker.
//
// The worker long-polls the predict SQS queue, runs each task through the
// forecasting model, stores the result, settles charge-on-success quota,
// and notifies Telegram chats that asked for the run. Transient model
// failures are republished with a bumped retry count; exhausted tasks are
// marked failed.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// in-flight tasks finish, no new batch is fetched.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockcast/internal/bot"
	"stockcast/internal/config"
	"stockcast/internal/db"
	"stockcast/internal/external"
	"stockcast/internal/metrics"
	"stockcast/internal/queue"
	"stockcast/internal/quota"
	"stockcast/internal/types"
	"stockcast/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.AWS.PredictQueueURL == "" {
		return fmt.Errorf("SQS_PREDICT_QUEUE must be set for the worker")
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("stockcast worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"queue_url", cfg.AWS.PredictQueueURL,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var (
		admissionMetrics quota.AdmissionMetrics
		workerMetrics    worker.WorkerMetrics
	)
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		cw := metrics.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, types.NewSlogLogger(logger))
		admissionMetrics, workerMetrics = cw, cw
	} else {
		nop := metrics.NopMetrics{}
		admissionMetrics, workerMetrics = nop, nop
	}

	ledger, err := quota.NewLedger(db.NewQuotaStore(pool), types.RealClock{}, cfg.Quota.Timezone)
	if err != nil {
		return fmt.Errorf("creating quota ledger: %w", err)
	}
	controller := quota.NewController(
		ledger,
		quota.NewLimiter(db.NewRateLimitStore(pool), types.RealClock{}),
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

	// Bot-originated tasks get their result pushed back into the chat.
	// Without a token the worker still processes them; the reply is skipped.
	var notifier worker.ResultNotifier
	if token := cfg.Telegram.BotToken.Unmask(); token != "" {
		api, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			return fmt.Errorf("connecting to telegram: %w", err)
		}
		notifier = bot.NewNotifier(api)
	} else {
		logger.Warn("no telegram token configured, chat notifications disabled")
	}

	w := worker.New(
		worker.Config{
			QueueURL:    cfg.AWS.PredictQueueURL,
			TaskTimeout: cfg.Predictor.Timeout,
		},
		sqsClient,
		predictor,
		db.NewPredictionRepo(pool),
		controller,
		queue.NewPredictTrigger(sqsClient, cfg.AWS.PredictQueueURL, logger),
		notifier,
		workerMetrics,
		logger,
	)

	return w.Run(ctx)
}

func loadConfig() (*config.Config, error) {
	if os.Getenv("APP_ENV") == "local" {
		return config.LoadConfig(nil)
	}
	return config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
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
