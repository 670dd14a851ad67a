package telegram

import (
	"fmt"
	"strings"

	"github.com/arlan/demping-bot/internal/domain"
)

// Formatter строит тексты уведомлений для продавца
type Formatter struct{}

// NewFormatter создает новый форматтер
func NewFormatter() *Formatter {
	return &Formatter{}
}

// PriceChange форматирует сообщение об изменении цены
func (f *Formatter) PriceChange(productID, cityName string, oldPrice, newPrice int64, reason string) string {
	var sb strings.Builder

	emoji := "📉"
	if newPrice > oldPrice {
		emoji = "📈"
	}

	sb.WriteString(fmt.Sprintf("%s *Цена изменена*\n\n", emoji))
	sb.WriteString(fmt.Sprintf("Товар: `%s`\n", productID))
	if cityName != "" {
		sb.WriteString(fmt.Sprintf("Город: %s\n", cityName))
	}
	sb.WriteString(fmt.Sprintf("Цена: %d → %d ₸\n", oldPrice, newPrice))
	sb.WriteString(fmt.Sprintf("Причина: %s", reasonLabel(reason)))

	return sb.String()
}

// Degraded форматирует сообщение о деградированном товаре
func (f *Formatter) Degraded(productID, cityID string) string {
	var sb strings.Builder

	sb.WriteString("⚠️ *Товар в деградированном состоянии*\n\n")
	sb.WriteString(fmt.Sprintf("Товар: `%s`\n", productID))
	if cityID != "" {
		sb.WriteString(fmt.Sprintf("Город: %s\n", cityID))
	}
	sb.WriteString("Три проверки подряд завершились ошибкой. Бот продолжит попытки по расписанию.")

	return sb.String()
}

func reasonLabel(reason string) string {
	switch reason {
	case domain.ReasonStandard:
		return "демпинг (стандартная стратегия)"
	case domain.ReasonAlwaysFirst:
		return "удержание первой позиции"
	case domain.ReasonStayTopN:
		return "удержание в топе"
	case domain.ReasonDelivery:
		return "демпинг по доставке"
	case domain.ReasonManual:
		return "ручной запуск"
	default:
		return reason
	}
}
