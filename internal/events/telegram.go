package events

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

// TelegramSink posts each event to the operator chat.
type TelegramSink struct {
	logger *logger.Logger
	bot    *bot.Bot
	chatID string
}

// NewTelegramSink connects the bot and starts polling for updates until ctx
// ends. Anyone who sends /start is told the chat ID to configure.
func NewTelegramSink(ctx context.Context, logger *logger.Logger, token, chatID string) (*TelegramSink, error) {
	sink := &TelegramSink{
		logger: logger.Named("telegram"),
		chatID: chatID,
	}
	opts := []bot.Option{
		bot.WithDefaultHandler(sink.handler),
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	go b.Start(ctx)
	sink.bot = b

	return sink, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, event *models.Event) error {
	if t.chatID == "" {
		return nil
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   event.String(),
	})
	return err
}

func (t *TelegramSink) handler(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
	if update.Message == nil || update.Message.Text != "/start" {
		return
	}
	chatID := fmt.Sprint(update.Message.Chat.ID)
	t.logger.Info("Telegram /start", "chatId", chatID)
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Set TELEGRAM_CHAT_ID=" + chatID + " to receive billing events here.",
	}); err != nil {
		t.logger.Error("Failed to answer /start", "error", err)
	}
}
