package applier

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/internal/marketplace"
	"github.com/arlan/demping-bot/internal/strategy"
	"github.com/arlan/demping-bot/pkg/utils"
)

// PriceSetter интерфейс внешней операции смены цены на маркетплейсе
type PriceSetter interface {
	SetPrice(ctx context.Context, productID, cityID string, price int64) error
}

// Item единица работы: товар в сегменте с текущим состоянием проверки
type Item struct {
	ProductID       string
	CityID          string
	CurrentPrice    int64
	OurPosition     int
	CompetitorPrice sql.NullInt64
}

// Result итог применения решения
type Result struct {
	Status   string // domain.CheckApplied, CheckNoChange, CheckFailed, CheckSkipped
	NewPrice int64
	Err      error
}

// Applier применяет решение оценщика к маркетплейсу.
// Повтор при временном сбое использует ту же целевую цену: повторная
// оценка против уехавшего снапшота конкурентов дала бы гонку между
// решением и его применением
type Applier struct {
	setter      PriceSetter
	checks      domain.CheckRecordRepository
	events      domain.PriceEventRepository
	segments    domain.SegmentRepository
	logger      *utils.Logger
	maxAttempts int
	backoffBase time.Duration
}

// New создает новый applier
func New(
	setter PriceSetter,
	checks domain.CheckRecordRepository,
	events domain.PriceEventRepository,
	segments domain.SegmentRepository,
	logger *utils.Logger,
) *Applier {
	return &Applier{
		setter:      setter,
		checks:      checks,
		events:      events,
		segments:    segments,
		logger:      logger,
		maxAttempts: domain.ApplyMaxAttempts,
		backoffBase: domain.ApplyBackoffBase,
	}
}

// SetRetryPolicy переопределяет число попыток и базовый backoff (для тестов)
func (a *Applier) SetRetryPolicy(maxAttempts int, backoffBase time.Duration) {
	a.maxAttempts = maxAttempts
	a.backoffBase = backoffBase
}

// Apply исполняет решение. NoChange — no-op, но запись проверки пишется всегда.
// SetPrice — ровно один вызов маркетплейса на попытку, с ограниченным числом
// повторов; событие изменения цены пишется ровно один раз, после успеха
func (a *Applier) Apply(ctx context.Context, item Item, decision strategy.Decision) *Result {
	switch decision.Kind {
	case strategy.NoChange:
		status := domain.CheckNoChange
		if decision.Reason == domain.SkipReasonPreOrder {
			status = domain.CheckSkipped
		}
		a.record(item, status, decision.Reason)
		return &Result{Status: status}

	case strategy.Failed:
		a.logger.Error("Evaluation failed for %s/%s: %v", item.ProductID, item.CityID, decision.Err)
		a.record(item, domain.CheckFailed, decision.Err.Error())
		return &Result{Status: domain.CheckFailed, Err: decision.Err}

	case strategy.SetPrice:
		return a.applyPrice(ctx, item, decision)

	default:
		err := fmt.Errorf("unknown decision kind: %v", decision.Kind)
		a.record(item, domain.CheckFailed, err.Error())
		return &Result{Status: domain.CheckFailed, Err: err}
	}
}

func (a *Applier) applyPrice(ctx context.Context, item Item, decision strategy.Decision) *Result {
	target := decision.NewPrice

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		lastErr = a.setter.SetPrice(ctx, item.ProductID, item.CityID, target)
		if lastErr == nil {
			a.commit(item, target, decision.Reason)
			return &Result{Status: domain.CheckApplied, NewPrice: target}
		}

		if !marketplace.IsTransient(lastErr) {
			a.logger.Error("Price apply rejected for %s/%s: %v", item.ProductID, item.CityID, lastErr)
			break
		}

		a.logger.Warn("Price apply attempt %d/%d failed for %s/%s: %v",
			attempt, a.maxAttempts, item.ProductID, item.CityID, lastErr)

		if attempt < a.maxAttempts {
			if err := sleep(ctx, a.backoffBase*time.Duration(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	// Цена на витрине осталась прежней, событие не пишем
	wrapped := fmt.Errorf("%w: %v", domain.ErrApply, lastErr)
	a.record(item, domain.CheckFailed, wrapped.Error())
	return &Result{Status: domain.CheckFailed, Err: wrapped}
}

// commit фиксирует успешное изменение: событие журнала, цена сегмента, запись проверки
func (a *Applier) commit(item Item, newPrice int64, reason string) {
	event := &domain.PriceChangeEvent{
		ProductID: item.ProductID,
		OldPrice:  item.CurrentPrice,
		NewPrice:  newPrice,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if item.CityID != "" {
		event.CityID = sql.NullString{String: item.CityID, Valid: true}
	}
	if err := a.events.Save(event); err != nil {
		a.logger.Error("Failed to save price change event for %s/%s: %v", item.ProductID, item.CityID, err)
	}

	if item.CityID != "" {
		if seg, err := a.segments.Get(item.ProductID, item.CityID); err == nil {
			seg.Price = newPrice
			seg.UpdatedAt = time.Now()
			if err := a.segments.Update(seg); err != nil {
				a.logger.Error("Failed to update segment price %s/%s: %v", item.ProductID, item.CityID, err)
			}
		}
	}

	a.record(item, domain.CheckApplied, reason)
	a.logger.Info("💰 Price applied: %s/%s %d → %d (%s)", item.ProductID, item.CityID, item.CurrentPrice, newPrice, reason)
}

func (a *Applier) record(item Item, status, reason string) {
	rec := &domain.CheckRecord{
		ProductID:       item.ProductID,
		CityID:          item.CityID,
		Status:          status,
		Reason:          reason,
		OurPosition:     item.OurPosition,
		CompetitorPrice: item.CompetitorPrice,
		CheckedAt:       time.Now(),
	}
	if err := a.checks.Save(rec); err != nil {
		a.logger.Error("Failed to save check record for %s/%s: %v", item.ProductID, item.CityID, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
