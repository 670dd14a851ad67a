package repository

import (
	"database/sql"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
)

// PriceEventRepository реализует append-only журнал изменений цены.
// Записи никогда не обновляются и не удаляются
type PriceEventRepository struct {
	db *sql.DB
}

// NewPriceEventRepository создает новый репозиторий журнала цен
func NewPriceEventRepository(db *sql.DB) *PriceEventRepository {
	return &PriceEventRepository{db: db}
}

// Save сохраняет событие изменения цены, ровно одно на примененное изменение
func (r *PriceEventRepository) Save(event *domain.PriceChangeEvent) error {
	query := `
		INSERT INTO price_events (product_id, city_id, old_price, new_price, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.db.QueryRow(
		query,
		event.ProductID,
		event.CityID,
		event.OldPrice,
		event.NewPrice,
		event.Reason,
		event.CreatedAt,
	).Scan(&event.ID)
}

// GetRecent возвращает последние N изменений цены товара
func (r *PriceEventRepository) GetRecent(productID string, limit int) ([]domain.PriceChangeEvent, error) {
	query := `
		SELECT id, product_id, city_id, old_price, new_price, reason, created_at
		FROM price_events
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryEvents(query, productID, limit)
}

// GetRange возвращает изменения цены товара за период
func (r *PriceEventRepository) GetRange(productID string, from, to time.Time) ([]domain.PriceChangeEvent, error) {
	query := `
		SELECT id, product_id, city_id, old_price, new_price, reason, created_at
		FROM price_events
		WHERE product_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
	`
	return r.queryEvents(query, productID, from, to)
}

func (r *PriceEventRepository) queryEvents(query string, args ...interface{}) ([]domain.PriceChangeEvent, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.PriceChangeEvent
	for rows.Next() {
		var event domain.PriceChangeEvent
		err := rows.Scan(
			&event.ID,
			&event.ProductID,
			&event.CityID,
			&event.OldPrice,
			&event.NewPrice,
			&event.Reason,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
