package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arlan/demping-bot/pkg/utils"
)

// Notifier отправляет продавцу уведомления об изменениях цен и сбоях.
// Отправка best-effort: ошибка Telegram логируется и не останавливает движок.
type Notifier struct {
	api       *tgbotapi.BotAPI
	chatID    int64
	formatter *Formatter
	logger    *utils.Logger
}

// NewNotifier создает нотификатор
func NewNotifier(token string, chatID int64, logger *utils.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	logger.Info("✅ Telegram notifier authorized as @%s", api.Self.UserName)

	return &Notifier{
		api:       api,
		chatID:    chatID,
		formatter: NewFormatter(),
		logger:    logger,
	}, nil
}

// PriceChanged уведомляет о примененном изменении цены
func (n *Notifier) PriceChanged(productID, cityName string, oldPrice, newPrice int64, reason string) {
	n.send(n.formatter.PriceChange(productID, cityName, oldPrice, newPrice, reason))
}

// Degraded уведомляет, что товар переведен в деградированное состояние
func (n *Notifier) Degraded(productID, cityID string) {
	n.send(n.formatter.Degraded(productID, cityID))
}

func (n *Notifier) send(text string) {
	message := tgbotapi.NewMessage(n.chatID, text)
	message.ParseMode = "Markdown"

	if _, err := n.api.Send(message); err != nil {
		n.logger.Warn("Failed to send Telegram notification: %v", err)
	}
}
