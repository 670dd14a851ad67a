package domain

import (
	"database/sql"
	"time"
)

// ProductConfig представляет настройки демпинга для одного товара
type ProductConfig struct {
	ID             int64         `db:"id"`
	ProductID      string        `db:"product_id"`
	Name           string        `db:"name"`
	Strategy       string        `db:"strategy"`    // "standard", "always_first", "stay_top_n"
	TargetRank     int           `db:"target_rank"` // для stay_top_n, >= 1
	MinPrice       sql.NullInt64 `db:"min_price"`   // NULL = нижняя граница из минимальной маржи
	MaxPrice       sql.NullInt64 `db:"max_price"`   // NULL = без верхней границы
	PriceStep      int64         `db:"price_step"`
	IsPriority     bool          `db:"is_priority"`
	Mode           string        `db:"mode"` // "off", "standard", "delivery"
	DeliveryFilter string        `db:"delivery_filter"`
	PreOrderDays   int           `db:"pre_order_days"` // 0 = без предзаказа
	Degraded       bool          `db:"degraded"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// BotActive сообщает, включен ли демпинг для товара в каком-либо режиме
func (c *ProductConfig) BotActive() bool {
	return c.Mode == ModeStandard || c.Mode == ModeDelivery
}

// Segment представляет пару (товар, город) — единицу ценообразования
type Segment struct {
	ID        int64         `db:"id"`
	ProductID string        `db:"product_id"`
	CityID    string        `db:"city_id"`
	CityName  string        `db:"city_name"`
	Price     int64         `db:"price"`
	MinPrice  sql.NullInt64 `db:"min_price"`
	MaxPrice  sql.NullInt64 `db:"max_price"`
	PriceStep int64         `db:"price_step"`
	BotActive bool          `db:"bot_active"` // пауза на уровне города, независимо от товара
	UpdatedAt time.Time     `db:"updated_at"`
}

// PickupPoint представляет точку выдачи магазина из Product Registry
type PickupPoint struct {
	ID       string
	CityID   string
	CityName string
	Enabled  bool
}

// CheckRecord представляет результат одной проверки (товар, город)
type CheckRecord struct {
	ID              int64         `db:"id"`
	ProductID       string        `db:"product_id"`
	CityID          string        `db:"city_id"`
	Status          string        `db:"status"` // "applied", "no_change", "failed", "skipped"
	Reason          string        `db:"reason"`
	OurPosition     int           `db:"our_position"` // 0 = позиция неизвестна
	CompetitorPrice sql.NullInt64 `db:"competitor_price"`
	CheckedAt       time.Time     `db:"checked_at"`
}

// PriceChangeEvent представляет примененное изменение цены (append-only)
type PriceChangeEvent struct {
	ID        int64          `db:"id"`
	ProductID string         `db:"product_id"`
	CityID    sql.NullString `db:"city_id"` // NULL = изменение без привязки к городу
	OldPrice  int64          `db:"old_price"`
	NewPrice  int64          `db:"new_price"`
	Reason    string         `db:"reason"` // "standard", "always_first", "stay_top_n", "manual", "delivery"
	CreatedAt time.Time      `db:"created_at"`
}

// CompetitorOffer представляет предложение конкурента в сегменте
type CompetitorOffer struct {
	MerchantID    string
	Price         int64
	DeliveryClass string // "same_or_faster", "today_tomorrow", "till_3_days", "till_5_days", "slow"
}

// CompetitorSnapshot представляет срез предложений по товару в сегменте
type CompetitorSnapshot struct {
	Offers         []CompetitorOffer
	OurPrice       int64
	OurPosition    int  // позиция нашего предложения в выдаче, 1 = первая
	ListingPending bool // предзаказная карточка еще не активна
	FetchedAt      time.Time
}

// BulkResult представляет результат одной операции в пакетном запросе
type BulkResult struct {
	ProductID string `json:"product_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}
