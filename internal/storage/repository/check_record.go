package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
)

// CheckRecordRepository реализует работу с записями проверок
type CheckRecordRepository struct {
	db *sql.DB
}

// NewCheckRecordRepository создает новый репозиторий записей проверок
func NewCheckRecordRepository(db *sql.DB) *CheckRecordRepository {
	return &CheckRecordRepository{db: db}
}

// Save сохраняет запись проверки. Записи пишет только движок:
// UI инициирует проверку запросом, но никогда не пишет сюда напрямую
func (r *CheckRecordRepository) Save(rec *domain.CheckRecord) error {
	query := `
		INSERT INTO check_records (product_id, city_id, status, reason, our_position, competitor_price, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return r.db.QueryRow(
		query,
		rec.ProductID,
		rec.CityID,
		rec.Status,
		rec.Reason,
		rec.OurPosition,
		rec.CompetitorPrice,
		rec.CheckedAt,
	).Scan(&rec.ID)
}

// GetLatest возвращает последнюю проверку пары (товар, город)
func (r *CheckRecordRepository) GetLatest(productID, cityID string) (*domain.CheckRecord, error) {
	query := `
		SELECT id, product_id, city_id, status, reason, our_position, competitor_price, checked_at
		FROM check_records
		WHERE product_id = $1 AND city_id = $2
		ORDER BY checked_at DESC
		LIMIT 1
	`
	var rec domain.CheckRecord
	err := r.db.QueryRow(query, productID, cityID).Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.CityID,
		&rec.Status,
		&rec.Reason,
		&rec.OurPosition,
		&rec.CompetitorPrice,
		&rec.CheckedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetLatestByProduct возвращает последнюю проверку каждого города товара
func (r *CheckRecordRepository) GetLatestByProduct(productID string) ([]domain.CheckRecord, error) {
	query := `
		SELECT DISTINCT ON (city_id)
		       id, product_id, city_id, status, reason, our_position, competitor_price, checked_at
		FROM check_records
		WHERE product_id = $1
		ORDER BY city_id, checked_at DESC
	`
	return r.queryRecords(query, productID)
}

// GetRange возвращает проверки товара за период
func (r *CheckRecordRepository) GetRange(productID string, from, to time.Time) ([]domain.CheckRecord, error) {
	query := `
		SELECT id, product_id, city_id, status, reason, our_position, competitor_price, checked_at
		FROM check_records
		WHERE product_id = $1 AND checked_at >= $2 AND checked_at < $3
		ORDER BY checked_at DESC
	`
	return r.queryRecords(query, productID, from, to)
}

func (r *CheckRecordRepository) queryRecords(query string, args ...interface{}) ([]domain.CheckRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.CheckRecord
	for rows.Next() {
		var rec domain.CheckRecord
		err := rows.Scan(
			&rec.ID,
			&rec.ProductID,
			&rec.CityID,
			&rec.Status,
			&rec.Reason,
			&rec.OurPosition,
			&rec.CompetitorPrice,
			&rec.CheckedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
