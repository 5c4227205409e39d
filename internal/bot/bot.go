// Package bot implements the Telegram front end. It shares the admission
// controller and stores with the HTTP API but charges quota on success:
// a chat user only pays for predictions that actually produced a result.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockcast/internal/external"
	"stockcast/internal/quota"
	"stockcast/internal/types"
)

const latestListLimit = 5

// TelegramAPI abstracts the parts of *tgbotapi.BotAPI the bot uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// ChatResolver maps a chat to the actor linked to it. Implemented by
// *auth.Service.
type ChatResolver interface {
	ResolveChat(ctx context.Context, chatID int64) (types.Actor, error)
}

// ChatDirectory provisions chat-linked accounts. Implemented by
// *db.UserRepo.
type ChatDirectory interface {
	RegisterChat(ctx context.Context, chatID int64) (*types.User, error)
}

// AdmissionService is the quota/rate-limit gate. Implemented by
// *quota.Controller.
type AdmissionService interface {
	Admit(ctx context.Context, actor types.Actor, charge types.ChargePolicy) (quota.Decision, error)
	ConfirmSuccess(ctx context.Context, userID string) error
	Status(ctx context.Context, actor types.Actor) (types.QuotaSnapshot, error)
}

// PredictionStore persists prediction records. Implemented by
// *db.PredictionRepo.
type PredictionStore interface {
	Insert(ctx context.Context, userID, ticker string, channel types.Channel) (*types.Prediction, error)
	MarkCompleted(ctx context.Context, id string, metrics types.JSONB, plotURLs []string) error
	MarkFailed(ctx context.Context, id string) error
	List(ctx context.Context, filters types.ListFilters) (*types.ListResponse[types.Prediction], error)
}

// Bot serves the Telegram command loop.
type Bot struct {
	api         TelegramAPI
	resolver    ChatResolver
	users       ChatDirectory
	admission   AdmissionService
	store       PredictionStore
	predictor   external.PredictorService
	billing     external.BillingService
	frontendURL string
	pollTimeout int
	logger      *slog.Logger
}

// New creates a Bot. billing may be nil; /subscribe then reports the
// upgrade flow as unavailable.
func New(api TelegramAPI, resolver ChatResolver, users ChatDirectory, admission AdmissionService, store PredictionStore, predictor external.PredictorService, billing external.BillingService, frontendURL string, pollTimeout int, logger *slog.Logger) *Bot {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:         api,
		resolver:    resolver,
		users:       users,
		admission:   admission,
		store:       store,
		predictor:   predictor,
		billing:     billing,
		frontendURL: frontendURL,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
}

// Run consumes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.InfoContext(ctx, "telegram bot started", "poll_timeout", b.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			b.logger.InfoContext(ctx, "telegram bot stopping")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message != nil && upd.Message.IsCommand() {
				b.handleCommand(ctx, upd.Message)
			}
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.reply(chatID, helpText)
	case "predict":
		b.handlePredict(ctx, chatID, msg.CommandArguments())
	case "latest":
		b.handleLatest(ctx, chatID)
	case "subscribe":
		b.handleSubscribe(ctx, chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help to see what I can do.")
	}
}

const helpText = "Available commands:\n\n" +
	"/start - Register this chat\n" +
	"/predict <ticker> - Get a next-day price prediction\n" +
	"/latest - Your most recent predictions\n" +
	"/subscribe - Upgrade to PRO for unlimited predictions\n" +
	"/stats - Your usage statistics (PRO)\n" +
	"/help - Show this message"

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	user, err := b.users.RegisterChat(ctx, chatID)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to register chat", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong while registering this chat. Please try again.")
		return
	}

	name := msg.From.FirstName
	if name == "" {
		name = "there"
	}
	b.logger.InfoContext(ctx, "chat registered", "chat_id", chatID, "user_id", user.ID)
	b.reply(chatID, fmt.Sprintf(
		"Hello %s! Welcome to the StockCast prediction bot.\n\nUse /help to see available commands.", name))
}

func (b *Bot) handlePredict(ctx context.Context, chatID int64, args string) {
	actor, ok := b.resolveActor(ctx, chatID)
	if !ok {
		return
	}

	ticker := types.NormalizeTicker(args)
	if err := types.ValidateTicker(ticker); err != nil {
		b.reply(chatID, "Usage: /predict <ticker>, e.g. /predict AAPL")
		return
	}

	decision, err := b.admission.Admit(ctx, actor, types.ChargeOnSuccess)
	if err != nil {
		b.logger.ErrorContext(ctx, "admission check failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong. Please try again later.")
		return
	}
	if !decision.Allowed {
		b.reply(chatID, denialText(decision))
		return
	}

	pred, err := b.store.Insert(ctx, actor.UserID, ticker, types.ChannelBot)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to create prediction record", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong. Please try again later.")
		return
	}

	b.reply(chatID, fmt.Sprintf("Running the model for %s. This can take a minute...", ticker))

	result, err := b.predictor.Predict(ctx, ticker)
	if err != nil {
		b.logger.ErrorContext(ctx, "model run failed",
			"chat_id", chatID,
			"ticker", ticker,
			"prediction_id", pred.ID,
			"error", err,
		)
		if mfErr := b.store.MarkFailed(ctx, pred.ID); mfErr != nil {
			b.logger.ErrorContext(ctx, "failed to mark prediction failed", "prediction_id", pred.ID, "error", mfErr)
		}
		// No ConfirmSuccess call: failed runs are free on this channel.
		b.reply(chatID, fmt.Sprintf("Sorry, the prediction for %s failed. You were not charged for it.", ticker))
		return
	}

	if err := b.store.MarkCompleted(ctx, pred.ID, result.Metrics, result.PlotURLs); err != nil {
		b.logger.ErrorContext(ctx, "failed to store prediction result", "prediction_id", pred.ID, "error", err)
	}
	if err := b.admission.ConfirmSuccess(ctx, actor.UserID); err != nil {
		b.logger.WarnContext(ctx, "failed to record quota consumption", "user_id", actor.UserID, "error", err)
	}

	b.reply(chatID, FormatResult(ticker, result))
}

func (b *Bot) handleLatest(ctx context.Context, chatID int64) {
	actor, ok := b.resolveActor(ctx, chatID)
	if !ok {
		return
	}

	resp, err := b.store.List(ctx, types.ListFilters{UserID: actor.UserID, Limit: latestListLimit})
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to list predictions", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong. Please try again later.")
		return
	}
	if len(resp.Data) == 0 {
		b.reply(chatID, "No predictions yet. Start with /predict <ticker>.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your latest predictions:\n")
	for _, p := range resp.Data {
		sb.WriteString(fmt.Sprintf("\n%s - %s (%s)", p.Ticker, p.Status, p.CreatedAt.Format("Jan 2 15:04")))
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64) {
	actor, ok := b.resolveActor(ctx, chatID)
	if !ok {
		return
	}
	if actor.IsPro {
		b.reply(chatID, "You are already on the PRO plan. Enjoy unlimited predictions!")
		return
	}
	if b.billing == nil {
		b.reply(chatID, "Upgrades are not available right now. Please try again later.")
		return
	}

	urls := types.RedirectURLs{
		Success: b.frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		Cancel:  b.frontendURL + "/billing/cancelled",
	}
	checkoutURL, sessionID, err := b.billing.CreateCheckoutSession(ctx, actor.UserID, urls)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to create checkout session", "chat_id", chatID, "error", err)
		b.reply(chatID, "Could not start the upgrade right now. Please try again later.")
		return
	}

	b.logger.InfoContext(ctx, "checkout session created",
		"user_id", actor.UserID,
		"session_id", sessionID,
	)
	b.reply(chatID, "Upgrade to PRO for unlimited predictions:\n"+checkoutURL)
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	actor, ok := b.resolveActor(ctx, chatID)
	if !ok {
		return
	}
	if !actor.IsPro {
		b.reply(chatID, "Usage statistics are a PRO feature. Upgrade with /subscribe.")
		return
	}

	snap, err := b.admission.Status(ctx, actor)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to load quota status", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong. Please try again later.")
		return
	}

	b.reply(chatID, fmt.Sprintf(
		"Usage for %s:\nPredictions today: %d\nPlan: PRO (unlimited)", actor.Username, snap.Used))
}

// resolveActor maps the chat to its actor, replying with the onboarding
// hint when the chat has never run /start. ok is false when the caller
// should stop.
func (b *Bot) resolveActor(ctx context.Context, chatID int64) (types.Actor, bool) {
	actor, err := b.resolver.ResolveChat(ctx, chatID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundProfile {
			b.reply(chatID, "This chat is not linked to an account yet. Run /start first.")
			return types.Actor{}, false
		}
		b.logger.ErrorContext(ctx, "failed to resolve chat", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong. Please try again later.")
		return types.Actor{}, false
	}
	return actor, true
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("failed to send telegram message", "chat_id", chatID, "error", err)
	}
}

func denialText(d quota.Decision) string {
	switch d.Reason {
	case types.DenyRateLimited:
		wait := time.Until(d.ResetAt).Round(time.Second)
		if wait > 0 {
			return fmt.Sprintf("Too many requests. Try again in %s.", wait)
		}
		return "Too many requests. Please slow down."
	case types.DenyQuotaExceeded:
		text := fmt.Sprintf("Daily prediction limit reached (%d/%d).", d.Limit, d.Limit)
		if d.UpgradeRequired {
			text += " Upgrade with /subscribe for unlimited predictions."
		}
		return text
	default:
		return "Request denied. Please try again later."
	}
}

// FormatResult renders a completed model run as a chat reply. Shared with
// the worker's result notifier so queued and inline runs read the same.
func FormatResult(ticker string, result *external.PredictionResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Prediction for %s is ready!", ticker)

	if price, ok := numericMetric(result.Metrics, "next_day_price"); ok {
		fmt.Fprintf(&sb, "\nNext-day price: $%.2f", price)
	}
	if rmse, ok := numericMetric(result.Metrics, "rmse"); ok {
		fmt.Fprintf(&sb, "\nRMSE: %.4f", rmse)
	}
	if r2, ok := numericMetric(result.Metrics, "r2"); ok {
		fmt.Fprintf(&sb, "\nR²: %.4f", r2)
	}
	for _, url := range result.PlotURLs {
		fmt.Fprintf(&sb, "\n%s", url)
	}
	return sb.String()
}

// numericMetric reads a float out of the model's metrics map. JSON
// round-trips deliver numbers as float64.
func numericMetric(m types.JSONB, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key].(float64)
	return v, ok
}
