// Package main is the entry point for the StockCast Telegram bot.
//
// The bot long-polls Telegram for command updates and serves the chat
// surface of the prediction pipeline: /predict runs the model inline and
// charges quota only on success, /subscribe hands out a Stripe Checkout
// link, /latest and /stats read prediction history and usage.
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

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockcast/internal/auth"
	"stockcast/internal/bot"
	"stockcast/internal/config"
	"stockcast/internal/db"
	"stockcast/internal/external"
	"stockcast/internal/metrics"
	"stockcast/internal/quota"
	"stockcast/internal/types"
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
	token := cfg.Telegram.BotToken.Unmask()
	if token == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN must be set for the bot")
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("stockcast bot starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	ledger, err := quota.NewLedger(db.NewQuotaStore(pool), types.RealClock{}, cfg.Quota.Timezone)
	if err != nil {
		return fmt.Errorf("creating quota ledger: %w", err)
	}
	// The bot runs the model inline, so admission telemetry rides on the
	// worker and API processes; the chat surface stays metrics-free.
	controller := quota.NewController(
		ledger,
		quota.NewLimiter(db.NewRateLimitStore(pool), types.RealClock{}),
		quota.NewPolicyResolver(cfg.Quota),
		metrics.NopMetrics{},
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

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)

	userRepo := db.NewUserRepo(pool)
	b := bot.New(
		api,
		auth.NewService(userRepo, logger),
		userRepo,
		controller,
		db.NewPredictionRepo(pool),
		predictor,
		billing,
		cfg.Server.FrontendURL,
		int(cfg.Telegram.PollTimeout.Seconds()),
		logger,
	)

	return b.Run(ctx)
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
