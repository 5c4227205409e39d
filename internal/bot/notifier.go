package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockcast/internal/external"
)

// Notifier delivers queued prediction outcomes back to the requesting
// chat. The worker holds one when the bot token is configured.
type Notifier struct {
	api TelegramAPI
}

// NewNotifier creates a Notifier.
func NewNotifier(api TelegramAPI) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) NotifySuccess(_ context.Context, chatID int64, ticker string, result *external.PredictionResult) error {
	_, err := n.api.Send(tgbotapi.NewMessage(chatID, FormatResult(ticker, result)))
	return err
}

func (n *Notifier) NotifyFailure(_ context.Context, chatID int64, ticker string) error {
	_, err := n.api.Send(tgbotapi.NewMessage(chatID,
		fmt.Sprintf("Sorry, the prediction for %s failed. You were not charged for it.", ticker)))
	return err
}
