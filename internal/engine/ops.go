package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/arlan/demping-bot/internal/domain"
)

// SegmentCheck результат оценки одного сегмента для ручных операций
type SegmentCheck struct {
	CityID       string `json:"city_id"`
	CityName     string `json:"city_name"`
	CurrentPrice int64  `json:"current_price"`
	Decision     string `json:"decision"`
	TargetPrice  int64  `json:"target_price,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ValidateConfig проверяет настройки демпинга. Ошибки конфигурации
// отклоняются синхронно на записи и никогда не доходят до планировщика
func (e *Engine) ValidateConfig(cfg *domain.ProductConfig) error {
	if cfg.ProductID == "" {
		return fmt.Errorf("%w: product_id is required", domain.ErrConfig)
	}
	if !domain.ValidStrategy(cfg.Strategy) {
		return fmt.Errorf("%w: unknown strategy %q", domain.ErrConfig, cfg.Strategy)
	}
	if cfg.Strategy == domain.StrategyStayTopN && cfg.TargetRank < 1 {
		return fmt.Errorf("%w: stay_top_n requires target_rank >= 1", domain.ErrConfig)
	}
	if cfg.MinPrice.Valid && cfg.MaxPrice.Valid && cfg.MinPrice.Int64 > cfg.MaxPrice.Int64 {
		return fmt.Errorf("%w: min_price %d > max_price %d", domain.ErrConfig, cfg.MinPrice.Int64, cfg.MaxPrice.Int64)
	}
	if cfg.PreOrderDays < 0 {
		return fmt.Errorf("%w: pre_order_days must not be negative", domain.ErrConfig)
	}

	switch cfg.Mode {
	case domain.ModeOff, domain.ModeStandard:
		// Обычный демпинг и демпинг по доставке взаимоисключающие:
		// фильтр существует только в режиме delivery
		cfg.DeliveryFilter = ""
	case domain.ModeDelivery:
		if !domain.ValidDeliveryFilter(cfg.DeliveryFilter) {
			return fmt.Errorf("%w: invalid delivery filter %q", domain.ErrConfig, cfg.DeliveryFilter)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", domain.ErrConfig, cfg.Mode)
	}

	if cfg.PriceStep <= 0 {
		cfg.PriceStep = domain.DefaultPriceStep
	}
	if cfg.Strategy != domain.StrategyStayTopN {
		cfg.TargetRank = 0
	}
	return nil
}

// UpsertConfig валидирует и сохраняет настройки товара. Приоритетная полоса
// резервируется здесь же: превышение емкости — ошибка конфигурации,
// а не тихий отказ при планировании
func (e *Engine) UpsertConfig(ctx context.Context, cfg *domain.ProductConfig) error {
	if err := e.ValidateConfig(cfg); err != nil {
		return err
	}

	if cfg.IsPriority {
		if err := e.lane.Add(cfg.ProductID); err != nil {
			return fmt.Errorf("%w: priority lane capacity %d", err, e.lane.Capacity())
		}
	} else {
		e.lane.Remove(cfg.ProductID)
	}

	if err := e.configs.CreateOrUpdate(cfg); err != nil {
		if cfg.IsPriority {
			e.lane.Remove(cfg.ProductID)
		}
		return fmt.Errorf("save config %s: %w", cfg.ProductID, err)
	}

	// Новые настройки действуют со следующей плановой проверки,
	// уже летящая оценка не переигрывается
	e.resolver.Invalidate(cfg.ProductID)

	if !cfg.BotActive() {
		e.sched.UntrackProduct(cfg.ProductID)
		return nil
	}

	if _, err := e.trackProduct(ctx, cfg); err != nil {
		if errors.Is(err, domain.ErrNoSegments) {
			e.logger.Warn("Product %s saved without warehouse data, not scheduled", cfg.ProductID)
			return nil
		}
		e.logger.Error("Failed to schedule %s: %v", cfg.ProductID, err)
	}
	return nil
}

// CheckNow запускает оценку всех сегментов товара без применения цены
func (e *Engine) CheckNow(ctx context.Context, productID string) ([]SegmentCheck, error) {
	return e.runManual(ctx, productID, nil, false)
}

// RunNow запускает оценку всех сегментов товара с применением решений
func (e *Engine) RunNow(ctx context.Context, productID string) ([]SegmentCheck, error) {
	return e.runManual(ctx, productID, nil, true)
}

// RunCityDemping запускает демпинг по выбранным городам товара.
// Пустой список городов означает все сегменты
func (e *Engine) RunCityDemping(ctx context.Context, productID string, cityIDs []string) ([]SegmentCheck, error) {
	return e.runManual(ctx, productID, cityIDs, true)
}

// runManual общий путь ручных операций. Временные ошибки отдельных сегментов
// не прерывают остальные и не пробрасываются наружу — они видны в результате
// и в записи проверки
func (e *Engine) runManual(ctx context.Context, productID string, cityIDs []string, applyChanges bool) ([]SegmentCheck, error) {
	cfg, err := e.configs.Get(productID)
	if err != nil {
		return nil, err
	}

	segs, err := e.resolver.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(cityIDs))
	for _, id := range cityIDs {
		wanted[id] = true
	}

	var results []SegmentCheck
	for i := range segs {
		seg := &segs[i]
		if len(wanted) > 0 && !wanted[seg.CityID] {
			continue
		}

		check := SegmentCheck{CityID: seg.CityID, CityName: seg.CityName, CurrentPrice: seg.Price}

		if !seg.BotActive {
			check.Decision = domain.CheckSkipped
			check.Reason = domain.SkipReasonBotPaused
			results = append(results, check)
			continue
		}

		result, err := e.evaluateSegment(ctx, cfg, seg, applyChanges)
		if err != nil {
			check.Decision = domain.CheckFailed
			check.Error = err.Error()
			results = append(results, check)
			continue
		}

		check.Decision = result.Status
		check.TargetPrice = result.NewPrice
		if result.Err != nil {
			check.Error = result.Err.Error()
		}
		results = append(results, check)
	}

	return results, nil
}

// SetBotActive массово включает или выключает демпинг. Каждая запись
// независима: сбой одного товара не откатывает и не блокирует остальные
func (e *Engine) SetBotActive(ctx context.Context, productIDs []string, active bool) []domain.BulkResult {
	results := make([]domain.BulkResult, 0, len(productIDs))

	for _, productID := range productIDs {
		result := domain.BulkResult{ProductID: productID, OK: true}

		if err := e.setBotActiveOne(ctx, productID, active); err != nil {
			result.OK = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	on := 0
	for _, r := range results {
		if r.OK {
			on++
		}
	}
	e.logger.Info("📦 Bulk set_bot_active(%v): %d/%d ok", active, on, len(productIDs))

	return results
}

func (e *Engine) setBotActiveOne(ctx context.Context, productID string, active bool) error {
	cfg, err := e.configs.Get(productID)
	if err != nil {
		return err
	}

	mode := domain.ModeOff
	if active {
		// Режим delivery сохраняется, если был настроен фильтр
		if cfg.DeliveryFilter != "" {
			mode = domain.ModeDelivery
		} else {
			mode = domain.ModeStandard
		}
	}

	if err := e.configs.SetMode(productID, mode); err != nil {
		return err
	}

	if !active {
		e.sched.UntrackProduct(productID)
		return nil
	}

	cfg.Mode = mode
	if _, err := e.trackProduct(ctx, cfg); err != nil && !errors.Is(err, domain.ErrNoSegments) {
		e.logger.Warn("Failed to schedule %s after enable: %v", productID, err)
	}
	return nil
}

// SetSegmentActive ставит или снимает паузу демпинга в отдельном городе
func (e *Engine) SetSegmentActive(productID, cityID string, active bool) error {
	if err := e.segs.SetBotActive(productID, cityID, active); err != nil {
		return err
	}
	e.resolver.Invalidate(productID)
	return nil
}

// UpdateSegment обновляет границы и шаг цены сегмента
func (e *Engine) UpdateSegment(seg *domain.Segment) error {
	if seg.MinPrice.Valid && seg.MaxPrice.Valid && seg.MinPrice.Int64 > seg.MaxPrice.Int64 {
		return fmt.Errorf("%w: min_price %d > max_price %d", domain.ErrConfig, seg.MinPrice.Int64, seg.MaxPrice.Int64)
	}
	if err := e.segs.Update(seg); err != nil {
		return err
	}
	e.resolver.Invalidate(seg.ProductID)
	return nil
}

// DeleteSegment удаляет городские настройки; сегмент вернется с дефолтами
// товара при следующем разрешении, если город все еще существует
func (e *Engine) DeleteSegment(productID, cityID string) error {
	if err := e.segs.Delete(productID, cityID); err != nil {
		return err
	}
	e.sched.Untrack(productID, cityID)
	e.resolver.Invalidate(productID)
	return nil
}
