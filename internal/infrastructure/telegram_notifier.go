package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier posts operational alerts (pairing timeouts, webhook
// drift) to an ops chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramNotifier validates the token against the Bot API.
func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram token: %w", err)
	}
	logger.Info("telegram alerts enabled", slog.String("bot", bot.Self.UserName))
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, "⚠️ "+text)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
