package repository

import (
	"database/sql"
	"errors"

	"github.com/arlan/demping-bot/internal/domain"
)

// ProductConfigRepository реализует работу с настройками демпинга
type ProductConfigRepository struct {
	db *sql.DB
}

// NewProductConfigRepository создает новый репозиторий настроек
func NewProductConfigRepository(db *sql.DB) *ProductConfigRepository {
	return &ProductConfigRepository{db: db}
}

const productConfigColumns = `
	id, product_id, name, strategy, target_rank, min_price, max_price,
	price_step, is_priority, mode, delivery_filter, pre_order_days,
	degraded, created_at, updated_at
`

// CreateOrUpdate сохраняет настройки товара (upsert по product_id)
func (r *ProductConfigRepository) CreateOrUpdate(cfg *domain.ProductConfig) error {
	query := `
		INSERT INTO product_configs (
			product_id, name, strategy, target_rank, min_price, max_price,
			price_step, is_priority, mode, delivery_filter, pre_order_days,
			degraded, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (product_id) DO UPDATE SET
			name = EXCLUDED.name,
			strategy = EXCLUDED.strategy,
			target_rank = EXCLUDED.target_rank,
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			price_step = EXCLUDED.price_step,
			is_priority = EXCLUDED.is_priority,
			mode = EXCLUDED.mode,
			delivery_filter = EXCLUDED.delivery_filter,
			pre_order_days = EXCLUDED.pre_order_days,
			updated_at = NOW()
		RETURNING id
	`
	return r.db.QueryRow(
		query,
		cfg.ProductID,
		cfg.Name,
		cfg.Strategy,
		cfg.TargetRank,
		cfg.MinPrice,
		cfg.MaxPrice,
		cfg.PriceStep,
		cfg.IsPriority,
		cfg.Mode,
		cfg.DeliveryFilter,
		cfg.PreOrderDays,
		cfg.Degraded,
	).Scan(&cfg.ID)
}

// Get возвращает настройки товара
func (r *ProductConfigRepository) Get(productID string) (*domain.ProductConfig, error) {
	query := `SELECT ` + productConfigColumns + ` FROM product_configs WHERE product_id = $1`

	var cfg domain.ProductConfig
	err := r.db.QueryRow(query, productID).Scan(
		&cfg.ID,
		&cfg.ProductID,
		&cfg.Name,
		&cfg.Strategy,
		&cfg.TargetRank,
		&cfg.MinPrice,
		&cfg.MaxPrice,
		&cfg.PriceStep,
		&cfg.IsPriority,
		&cfg.Mode,
		&cfg.DeliveryFilter,
		&cfg.PreOrderDays,
		&cfg.Degraded,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetAll возвращает настройки всех товаров
func (r *ProductConfigRepository) GetAll() ([]domain.ProductConfig, error) {
	query := `SELECT ` + productConfigColumns + ` FROM product_configs ORDER BY product_id`
	return r.queryConfigs(query)
}

// GetActive возвращает товары с включенным демпингом
func (r *ProductConfigRepository) GetActive() ([]domain.ProductConfig, error) {
	query := `SELECT ` + productConfigColumns + ` FROM product_configs WHERE mode <> $1 ORDER BY product_id`
	return r.queryConfigs(query, domain.ModeOff)
}

// SetMode переключает режим демпинга товара
func (r *ProductConfigRepository) SetMode(productID, mode string) error {
	return r.exec(`UPDATE product_configs SET mode = $2, updated_at = NOW() WHERE product_id = $1`, productID, mode)
}

// SetPriority переключает приоритетную полосу товара
func (r *ProductConfigRepository) SetPriority(productID string, priority bool) error {
	return r.exec(`UPDATE product_configs SET is_priority = $2, updated_at = NOW() WHERE product_id = $1`, productID, priority)
}

// SetDegraded помечает или снимает деградацию
func (r *ProductConfigRepository) SetDegraded(productID string, degraded bool) error {
	return r.exec(`UPDATE product_configs SET degraded = $2, updated_at = NOW() WHERE product_id = $1`, productID, degraded)
}

func (r *ProductConfigRepository) exec(query string, args ...interface{}) error {
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

func (r *ProductConfigRepository) queryConfigs(query string, args ...interface{}) ([]domain.ProductConfig, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []domain.ProductConfig
	for rows.Next() {
		var cfg domain.ProductConfig
		err := rows.Scan(
			&cfg.ID,
			&cfg.ProductID,
			&cfg.Name,
			&cfg.Strategy,
			&cfg.TargetRank,
			&cfg.MinPrice,
			&cfg.MaxPrice,
			&cfg.PriceStep,
			&cfg.IsPriority,
			&cfg.Mode,
			&cfg.DeliveryFilter,
			&cfg.PreOrderDays,
			&cfg.Degraded,
			&cfg.CreatedAt,
			&cfg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}
