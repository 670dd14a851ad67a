package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrConfig возвращается при некорректной конфигурации демпинга,
	// всегда синхронно вызывающей стороне, до планирования
	ErrConfig = errors.New("config error")

	// ErrInvalidBounds возвращается когда min_price > max_price
	ErrInvalidBounds = errors.New("invalid price bounds")

	// ErrInvalidStrategy возвращается при неизвестной стратегии или параметрах
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrNoSegments возвращается когда у товара нет ни одного города —
	// это не сбой, а состояние "нет данных о складах", требующее действий продавца
	ErrNoSegments = errors.New("no segments")

	// ErrPriorityLimit возвращается при попытке превысить емкость приоритетной полосы
	ErrPriorityLimit = errors.New("priority lane limit reached")

	// ErrFetch возвращается когда данные конкурентов недоступны
	ErrFetch = errors.New("competitor fetch failed")

	// ErrApply возвращается когда маркетплейс отклонил или не подтвердил смену цены
	ErrApply = errors.New("price apply failed")

	// ErrMarketplaceAPI возвращается при ошибке API маркетплейса
	ErrMarketplaceAPI = errors.New("marketplace API error")
)
