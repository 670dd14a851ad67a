package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arlan/demping-bot/internal/applier"
	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/internal/scheduler"
	"github.com/arlan/demping-bot/internal/segments"
	"github.com/arlan/demping-bot/internal/strategy"
	"github.com/arlan/demping-bot/pkg/utils"
)

// Fetcher интерфейс получения снапшота конкурентов
type Fetcher interface {
	FetchOffers(ctx context.Context, productID, cityID string, excludedMerchants []string, deliveryFilter string) (*domain.CompetitorSnapshot, error)
}

// Registry интерфейс Product Registry для минимальной маржинальной цены
type Registry interface {
	GetMinProfitFloor(ctx context.Context, productID string) (int64, error)
}

// Notifier интерфейс уведомлений продавца. Все вызовы best-effort:
// сбой уведомления не влияет на конвейер
type Notifier interface {
	PriceChanged(productID, cityName string, oldPrice, newPrice int64, reason string)
	Degraded(productID, cityID string)
}

// Engine связывает планировщик, resolver, оценщик и applier в конвейер:
// due-пара -> сегмент -> снапшот конкурентов -> решение -> применение -> запись
type Engine struct {
	configs  domain.ProductConfigRepository
	checks   domain.CheckRecordRepository
	segs     domain.SegmentRepository
	resolver *segments.Resolver
	fetcher  Fetcher
	registry Registry
	applier  *applier.Applier
	sched    *scheduler.Scheduler
	lane     *scheduler.PriorityLane
	notifier Notifier
	logger   *utils.Logger

	excludedMerchants []string // торговцы, исключенные из сравнения на уровне магазина
}

// New создает движок демпинга
func New(
	configs domain.ProductConfigRepository,
	checks domain.CheckRecordRepository,
	segs domain.SegmentRepository,
	resolver *segments.Resolver,
	fetcher Fetcher,
	registry Registry,
	priceApplier *applier.Applier,
	sched *scheduler.Scheduler,
	lane *scheduler.PriorityLane,
	notifier Notifier,
	logger *utils.Logger,
	excludedMerchants []string,
) *Engine {
	e := &Engine{
		configs:           configs,
		checks:            checks,
		segs:              segs,
		resolver:          resolver,
		fetcher:           fetcher,
		registry:          registry,
		applier:           priceApplier,
		sched:             sched,
		lane:              lane,
		notifier:          notifier,
		logger:            logger,
		excludedMerchants: excludedMerchants,
	}
	sched.SetProcessor(e)
	sched.OnDegraded = e.onDegraded
	return e
}

// Bootstrap восстанавливает состояние планировщика из базы: активные товары,
// их сегменты, приоритетную полосу и время последних проверок
func (e *Engine) Bootstrap(ctx context.Context) error {
	configs, err := e.configs.GetActive()
	if err != nil {
		return fmt.Errorf("load active configs: %w", err)
	}

	tracked := 0
	for i := range configs {
		cfg := &configs[i]

		if cfg.IsPriority {
			if err := e.lane.Add(cfg.ProductID); err != nil {
				// База может содержать больше приоритетных товаров, чем емкость
				// (например после уменьшения лимита) — лишние едут обычной полосой
				e.logger.Warn("Priority lane full, %s scheduled on ordinary lane", cfg.ProductID)
			}
		}

		n, err := e.trackProduct(ctx, cfg)
		if err != nil {
			if errors.Is(err, domain.ErrNoSegments) {
				e.logger.Warn("Product %s has no warehouse data, not scheduled", cfg.ProductID)
				continue
			}
			e.logger.Error("Failed to resolve segments for %s: %v", cfg.ProductID, err)
			continue
		}
		tracked += n
	}

	e.logger.Info("🚀 Engine bootstrapped: %d products, %d (product, city) pairs, priority %d/%d",
		len(configs), tracked, e.lane.Used(), e.lane.Capacity())
	return nil
}

// trackProduct регистрирует все сегменты товара в планировщике
func (e *Engine) trackProduct(ctx context.Context, cfg *domain.ProductConfig) (int, error) {
	segs, err := e.resolver.Resolve(ctx, cfg)
	if err != nil {
		return 0, err
	}

	for _, seg := range segs {
		lastCheck := time.Time{}
		if rec, err := e.checks.GetLatest(cfg.ProductID, seg.CityID); err == nil {
			lastCheck = rec.CheckedAt
		}
		e.sched.Track(cfg.ProductID, seg.CityID, lastCheck)
	}
	return len(segs), nil
}

// Process обрабатывает одну due-пару (товар, город) от начала до конца.
// Вызывается воркером планировщика
func (e *Engine) Process(ctx context.Context, productID, cityID string) error {
	cfg, err := e.configs.Get(productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.sched.UntrackProduct(productID)
			return nil
		}
		return fmt.Errorf("load config %s: %w", productID, err)
	}

	if !cfg.BotActive() {
		e.sched.UntrackProduct(productID)
		return nil
	}

	segs, err := e.resolver.Resolve(ctx, cfg)
	if err != nil {
		if errors.Is(err, domain.ErrNoSegments) {
			// Не сбой: товару нужны данные о складах, в очереди ему делать нечего
			e.sched.UntrackProduct(productID)
			return nil
		}
		return fmt.Errorf("resolve segments %s: %w", productID, err)
	}

	var seg *domain.Segment
	for i := range segs {
		if segs[i].CityID == cityID {
			seg = &segs[i]
			break
		}
	}
	if seg == nil {
		e.sched.Untrack(productID, cityID)
		return nil
	}

	if !seg.BotActive {
		return nil // город на паузе, проверка не выполняется
	}

	result, err := e.evaluateSegment(ctx, cfg, seg, true)
	if err != nil {
		return err
	}
	if result.Err != nil {
		return result.Err
	}

	// Успешная проверка снимает деградацию
	if cfg.Degraded {
		if err := e.configs.SetDegraded(productID, false); err != nil {
			e.logger.Warn("Failed to clear degraded flag for %s: %v", productID, err)
		}
	}

	return nil
}

// evaluateSegment выполняет fetch -> evaluate -> (apply) для одного сегмента
func (e *Engine) evaluateSegment(ctx context.Context, cfg *domain.ProductConfig, seg *domain.Segment, applyChanges bool) (*applier.Result, error) {
	deliveryFilter := ""
	if cfg.Mode == domain.ModeDelivery {
		deliveryFilter = cfg.DeliveryFilter
	}

	snapshot, err := e.fetcher.FetchOffers(ctx, cfg.ProductID, seg.CityID, e.excludedMerchants, deliveryFilter)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", domain.ErrFetch, err)
		e.recordFailure(cfg.ProductID, seg.CityID, wrapped)
		return nil, wrapped
	}

	current := seg.Price
	if snapshot.OurPrice > 0 {
		current = snapshot.OurPrice // витрина — источник истины о текущей цене
	}

	minPrice, maxPrice, err := e.effectiveBounds(ctx, cfg, seg)
	if err != nil {
		return nil, err
	}

	step := seg.PriceStep
	if step <= 0 {
		step = cfg.PriceStep
	}

	decision := strategy.Evaluate(strategy.EvalInput{
		CurrentPrice:    current,
		Offers:          snapshot.Offers,
		Strategy:        cfg.Strategy,
		TargetRank:      cfg.TargetRank,
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		PriceStep:       step,
		DeliveryFilter:  deliveryFilter,
		PreOrderPending: cfg.PreOrderDays > 0 && snapshot.ListingPending,
	})

	item := applier.Item{
		ProductID:       cfg.ProductID,
		CityID:          seg.CityID,
		CurrentPrice:    current,
		OurPosition:     snapshot.OurPosition,
		CompetitorPrice: lowestOffer(snapshot.Offers),
	}

	if !applyChanges {
		// "Проверить сейчас": оценка записывается, цена не трогается
		forced := decision
		if forced.Kind == strategy.SetPrice {
			forced = strategy.Decision{Kind: strategy.NoChange, Reason: forced.Reason}
		}
		result := e.applier.Apply(ctx, item, forced)
		result.NewPrice = decision.NewPrice
		e.sched.MarkChecked(cfg.ProductID, seg.CityID, time.Now())
		return result, nil
	}

	result := e.applier.Apply(ctx, item, decision)
	e.sched.MarkChecked(cfg.ProductID, seg.CityID, time.Now())

	if result.Status == domain.CheckApplied && e.notifier != nil {
		e.notifier.PriceChanged(cfg.ProductID, seg.CityName, current, result.NewPrice, decision.Reason)
	}

	return result, nil
}

// effectiveBounds вычисляет границы сегмента: настройки города перекрывают
// товарные, отсутствующий минимум берется из минимальной маржинальной цены
func (e *Engine) effectiveBounds(ctx context.Context, cfg *domain.ProductConfig, seg *domain.Segment) (sql.NullInt64, sql.NullInt64, error) {
	minPrice := seg.MinPrice
	if !minPrice.Valid {
		minPrice = cfg.MinPrice
	}
	maxPrice := seg.MaxPrice
	if !maxPrice.Valid {
		maxPrice = cfg.MaxPrice
	}

	if !minPrice.Valid {
		floor, err := e.registry.GetMinProfitFloor(ctx, cfg.ProductID)
		if err != nil {
			wrapped := fmt.Errorf("%w: min profit floor: %v", domain.ErrFetch, err)
			e.recordFailure(cfg.ProductID, seg.CityID, wrapped)
			return minPrice, maxPrice, wrapped
		}
		if floor > 0 {
			minPrice = sql.NullInt64{Int64: floor, Valid: true}
		}
	}

	return minPrice, maxPrice, nil
}

func (e *Engine) recordFailure(productID, cityID string, err error) {
	rec := &domain.CheckRecord{
		ProductID: productID,
		CityID:    cityID,
		Status:    domain.CheckFailed,
		Reason:    err.Error(),
		CheckedAt: time.Now(),
	}
	if saveErr := e.checks.Save(rec); saveErr != nil {
		e.logger.Error("Failed to save failure record for %s/%s: %v", productID, cityID, saveErr)
	}
}

func (e *Engine) onDegraded(productID, cityID string) {
	if err := e.configs.SetDegraded(productID, true); err != nil {
		e.logger.Error("Failed to set degraded flag for %s: %v", productID, err)
	}
	if e.notifier != nil {
		e.notifier.Degraded(productID, cityID)
	}
}

func lowestOffer(offers []domain.CompetitorOffer) sql.NullInt64 {
	var lowest sql.NullInt64
	for _, o := range offers {
		if !lowest.Valid || o.Price < lowest.Int64 {
			lowest = sql.NullInt64{Int64: o.Price, Valid: true}
		}
	}
	return lowest
}
