package domain

import "time"

// ProductConfigRepository определяет интерфейс для работы с настройками демпинга
type ProductConfigRepository interface {
	CreateOrUpdate(cfg *ProductConfig) error
	Get(productID string) (*ProductConfig, error)
	GetAll() ([]ProductConfig, error)
	GetActive() ([]ProductConfig, error)
	SetMode(productID, mode string) error
	SetPriority(productID string, priority bool) error
	SetDegraded(productID string, degraded bool) error
}

// SegmentRepository определяет интерфейс для работы с сегментами (товар, город)
type SegmentRepository interface {
	Save(seg *Segment) error
	Update(seg *Segment) error
	Get(productID, cityID string) (*Segment, error)
	GetByProduct(productID string) ([]Segment, error)
	Delete(productID, cityID string) error
	SetBotActive(productID, cityID string, active bool) error
}

// CheckRecordRepository определяет интерфейс для работы с записями проверок
type CheckRecordRepository interface {
	Save(rec *CheckRecord) error
	GetLatest(productID, cityID string) (*CheckRecord, error)
	GetLatestByProduct(productID string) ([]CheckRecord, error)
	GetRange(productID string, from, to time.Time) ([]CheckRecord, error)
}

// PriceEventRepository определяет интерфейс для журнала изменений цены
type PriceEventRepository interface {
	Save(event *PriceChangeEvent) error
	GetRecent(productID string, limit int) ([]PriceChangeEvent, error)
	GetRange(productID string, from, to time.Time) ([]PriceChangeEvent, error)
}
