package segments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/pkg/utils"
)

// Registry интерфейс Product Registry: карта точек выдачи и текущая цена
type Registry interface {
	GetPickupPoints(ctx context.Context, productID string) ([]domain.PickupPoint, error)
	GetCurrentPrice(ctx context.Context, productID string) (int64, error)
}

// Resolver вычисляет сегменты (товар, город) из точек выдачи магазина.
// Результат — кешируемая проекция: пересчитывается при изменении точек
// выдачи (Invalidate) или по истечении TTL, а не правится по месту
type Resolver struct {
	registry Registry
	repo     domain.SegmentRepository
	logger   *utils.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	segments  []domain.Segment
	expiresAt time.Time
}

// NewResolver создает новый resolver сегментов
func NewResolver(registry Registry, repo domain.SegmentRepository, logger *utils.Logger, ttl time.Duration) *Resolver {
	return &Resolver{
		registry: registry,
		repo:     repo,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
		ttl:      ttl,
	}
}

// Resolve возвращает сегменты товара, группируя включенные точки выдачи
// по городам. Пустой результат — это domain.ErrNoSegments: состояние
// "нет данных о складах", а не сбой, поэтому вызывающая сторона не должна
// повторять запрос в горячем цикле
func (r *Resolver) Resolve(ctx context.Context, cfg *domain.ProductConfig) ([]domain.Segment, error) {
	r.mu.Lock()
	if entry, ok := r.cache[cfg.ProductID]; ok && time.Now().Before(entry.expiresAt) {
		segs := entry.segments
		r.mu.Unlock()
		return segs, nil
	}
	r.mu.Unlock()

	points, err := r.registry.GetPickupPoints(ctx, cfg.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get pickup points for %s: %w", cfg.ProductID, err)
	}

	cities := groupByCity(points)
	if len(cities) == 0 {
		return nil, domain.ErrNoSegments
	}

	stored, err := r.repo.GetByProduct(cfg.ProductID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load segments for %s: %w", cfg.ProductID, err)
	}

	byCity := make(map[string]domain.Segment, len(stored))
	for _, s := range stored {
		byCity[s.CityID] = s
	}

	var result []domain.Segment
	for cityID, cityName := range cities {
		if seg, ok := byCity[cityID]; ok {
			result = append(result, seg)
			continue
		}

		// Новый город: инициализируем сегмент глобальными настройками товара.
		// Для продавца с одним складом это убирает ручную настройку целиком
		seg, err := r.materialize(ctx, cfg, cityID, cityName)
		if err != nil {
			return nil, err
		}
		result = append(result, *seg)
	}

	// Города, исчезнувшие из точек выдачи, вычищаем
	for cityID := range byCity {
		if _, ok := cities[cityID]; ok {
			continue
		}
		if err := r.repo.Delete(cfg.ProductID, cityID); err != nil {
			r.logger.Warn("Failed to prune stale segment %s/%s: %v", cfg.ProductID, cityID, err)
			continue
		}
		r.logger.Info("🧹 Pruned stale segment %s/%s", cfg.ProductID, cityID)
	}

	r.mu.Lock()
	r.cache[cfg.ProductID] = cacheEntry{segments: result, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return result, nil
}

// Invalidate сбрасывает кеш товара при изменении точек выдачи или настроек
func (r *Resolver) Invalidate(productID string) {
	r.mu.Lock()
	delete(r.cache, productID)
	r.mu.Unlock()
}

// materialize создает сегмент нового города с настройками товара по умолчанию
func (r *Resolver) materialize(ctx context.Context, cfg *domain.ProductConfig, cityID, cityName string) (*domain.Segment, error) {
	price, err := r.registry.GetCurrentPrice(ctx, cfg.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get current price for %s: %w", cfg.ProductID, err)
	}

	seg := &domain.Segment{
		ProductID: cfg.ProductID,
		CityID:    cityID,
		CityName:  cityName,
		Price:     price,
		MinPrice:  cfg.MinPrice,
		MaxPrice:  cfg.MaxPrice,
		PriceStep: cfg.PriceStep,
		BotActive: true,
		UpdatedAt: time.Now(),
	}

	if err := r.repo.Save(seg); err != nil {
		return nil, fmt.Errorf("save segment %s/%s: %w", cfg.ProductID, cityID, err)
	}

	r.logger.Info("🏙 Materialized segment %s/%s (%s) at price %d", cfg.ProductID, cityID, cityName, price)
	return seg, nil
}

// groupByCity собирает включенные точки выдачи в map город -> название.
// Точки без привязки к городу игнорируются
func groupByCity(points []domain.PickupPoint) map[string]string {
	cities := make(map[string]string)
	for _, p := range points {
		if !p.Enabled || p.CityID == "" {
			continue
		}
		cities[p.CityID] = p.CityName
	}
	return cities
}
