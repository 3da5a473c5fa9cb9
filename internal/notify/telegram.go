package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender mirrors notifications into a staff chat
type TelegramSender struct {
	api    botAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramSender creates a sender posting to the given chat
func NewTelegramSender(token string, chatID int64, logger *zap.Logger) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Telegram notifier created", zap.String("bot_username", api.Self.UserName))
	return &TelegramSender{api: api, chatID: chatID, logger: logger}, nil
}

// Send posts a plain-text summary of the message
func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	text := fmt.Sprintf("%s\n\nTo: %s\n\n%s", msg.Subject, msg.To, msg.Text)
	if _, err := s.api.Send(tgbotapi.NewMessage(s.chatID, text)); err != nil {
		s.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID),
		)
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
