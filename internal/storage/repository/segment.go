package repository

import (
	"database/sql"
	"errors"

	"github.com/arlan/demping-bot/internal/domain"
)

// SegmentRepository реализует работу с сегментами (товар, город)
type SegmentRepository struct {
	db *sql.DB
}

// NewSegmentRepository создает новый репозиторий сегментов
func NewSegmentRepository(db *sql.DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

const segmentColumns = `
	id, product_id, city_id, city_name, price, min_price, max_price,
	price_step, bot_active, updated_at
`

// Save сохраняет новый сегмент
func (r *SegmentRepository) Save(seg *domain.Segment) error {
	query := `
		INSERT INTO segments (product_id, city_id, city_name, price, min_price, max_price, price_step, bot_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (product_id, city_id) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRow(
		query,
		seg.ProductID,
		seg.CityID,
		seg.CityName,
		seg.Price,
		seg.MinPrice,
		seg.MaxPrice,
		seg.PriceStep,
		seg.BotActive,
		seg.UpdatedAt,
	).Scan(&seg.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Сегмент уже существует — подтянем его id
		existing, getErr := r.Get(seg.ProductID, seg.CityID)
		if getErr != nil {
			return getErr
		}
		seg.ID = existing.ID
		return nil
	}
	return err
}

// Update обновляет настройки и цену сегмента
func (r *SegmentRepository) Update(seg *domain.Segment) error {
	query := `
		UPDATE segments
		SET city_name = $3, price = $4, min_price = $5, max_price = $6,
		    price_step = $7, bot_active = $8, updated_at = NOW()
		WHERE product_id = $1 AND city_id = $2
	`
	return r.exec(query, seg.ProductID, seg.CityID, seg.CityName, seg.Price,
		seg.MinPrice, seg.MaxPrice, seg.PriceStep, seg.BotActive)
}

// Get возвращает сегмент по паре (товар, город)
func (r *SegmentRepository) Get(productID, cityID string) (*domain.Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE product_id = $1 AND city_id = $2`

	var seg domain.Segment
	err := r.db.QueryRow(query, productID, cityID).Scan(
		&seg.ID,
		&seg.ProductID,
		&seg.CityID,
		&seg.CityName,
		&seg.Price,
		&seg.MinPrice,
		&seg.MaxPrice,
		&seg.PriceStep,
		&seg.BotActive,
		&seg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

// GetByProduct возвращает все сегменты товара
func (r *SegmentRepository) GetByProduct(productID string) ([]domain.Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE product_id = $1 ORDER BY city_id`

	rows, err := r.db.Query(query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []domain.Segment
	for rows.Next() {
		var seg domain.Segment
		err := rows.Scan(
			&seg.ID,
			&seg.ProductID,
			&seg.CityID,
			&seg.CityName,
			&seg.Price,
			&seg.MinPrice,
			&seg.MaxPrice,
			&seg.PriceStep,
			&seg.BotActive,
			&seg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	return segments, rows.Err()
}

// Delete удаляет сегмент исчезнувшего города
func (r *SegmentRepository) Delete(productID, cityID string) error {
	return r.exec(`DELETE FROM segments WHERE product_id = $1 AND city_id = $2`, productID, cityID)
}

// SetBotActive ставит или снимает паузу демпинга в отдельном городе
func (r *SegmentRepository) SetBotActive(productID, cityID string, active bool) error {
	return r.exec(`UPDATE segments SET bot_active = $3, updated_at = NOW() WHERE product_id = $1 AND city_id = $2`,
		productID, cityID, active)
}

func (r *SegmentRepository) exec(query string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
