package notification

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter posts operator alerts to a fixed set of chats.
type TelegramAlerter struct {
	bot     botSender
	chatIDs []int64
}

func NewTelegramAlerter(token string, chatIDs []int64) (*TelegramAlerter, error) {
	if len(chatIDs) == 0 {
		return nil, errors.New("telegram alerts need at least one chat id")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegramAlerter(bot, chatIDs), nil
}

func newTelegramAlerter(bot botSender, chatIDs []int64) *TelegramAlerter {
	return &TelegramAlerter{bot: bot, chatIDs: chatIDs}
}

// Alert sends text to every chat and returns the first failure.
func (a *TelegramAlerter) Alert(_ context.Context, text string) error {
	var firstErr error
	for _, chatID := range a.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("telegram chat %d: %w", chatID, err)
		}
	}
	return firstErr
}
