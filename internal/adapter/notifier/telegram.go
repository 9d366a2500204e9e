package notifier

import (
	"context"
	"fmt"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// Bot API uploads are capped at 50 MB.
const maxTelegramUpload = 50 * 1024 * 1024

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot      sender
	chatID   int64
	sendFile bool
}

func NewTelegram(token string, chatID int64, sendFile bool) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, sendFile: sendFile}, nil
}

func (t *Telegram) Notify(_ context.Context, n domain.Notification) error {
	text := n.Message
	if n.Subject != "" {
		text = n.Subject + "\n\n" + n.Message
	}

	if t.sendFile && n.Attachment != "" {
		if info, err := os.Stat(n.Attachment); err == nil && info.Size() <= maxTelegramUpload {
			doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(n.Attachment))
			doc.Caption = text
			if _, err := t.bot.Send(doc); err != nil {
				return fmt.Errorf("failed to send telegram file: %w", err)
			}
			return nil
		}
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}
