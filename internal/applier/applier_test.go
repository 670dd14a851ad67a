package applier

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/internal/marketplace"
	"github.com/arlan/demping-bot/internal/strategy"
	"github.com/arlan/demping-bot/pkg/utils"
)

type fakeSetter struct {
	failures int // сколько первых вызовов вернут временную ошибку
	permErr  error
	calls    []int64
}

func (f *fakeSetter) SetPrice(ctx context.Context, productID, cityID string, price int64) error {
	f.calls = append(f.calls, price)
	if f.permErr != nil {
		return f.permErr
	}
	if len(f.calls) <= f.failures {
		return errors.New("connection reset")
	}
	return nil
}

type memChecks struct {
	records []domain.CheckRecord
}

func (m *memChecks) Save(rec *domain.CheckRecord) error {
	m.records = append(m.records, *rec)
	return nil
}

func (m *memChecks) GetLatest(productID, cityID string) (*domain.CheckRecord, error) {
	return nil, domain.ErrNotFound
}

func (m *memChecks) GetLatestByProduct(productID string) ([]domain.CheckRecord, error) {
	return nil, nil
}

func (m *memChecks) GetRange(productID string, from, to time.Time) ([]domain.CheckRecord, error) {
	return nil, nil
}

type memEvents struct {
	events []domain.PriceChangeEvent
}

func (m *memEvents) Save(event *domain.PriceChangeEvent) error {
	m.events = append(m.events, *event)
	return nil
}

func (m *memEvents) GetRecent(productID string, limit int) ([]domain.PriceChangeEvent, error) {
	return nil, nil
}

func (m *memEvents) GetRange(productID string, from, to time.Time) ([]domain.PriceChangeEvent, error) {
	return nil, nil
}

type memSegments struct {
	seg *domain.Segment
}

func (m *memSegments) Save(seg *domain.Segment) error   { return nil }
func (m *memSegments) Update(seg *domain.Segment) error { m.seg = seg; return nil }
func (m *memSegments) Get(productID, cityID string) (*domain.Segment, error) {
	return &domain.Segment{ProductID: productID, CityID: cityID, Price: 1000}, nil
}
func (m *memSegments) GetByProduct(productID string) ([]domain.Segment, error) { return nil, nil }
func (m *memSegments) Delete(productID, cityID string) error                   { return nil }
func (m *memSegments) SetBotActive(productID, cityID string, active bool) error {
	return nil
}

func newTestApplier(setter *fakeSetter) (*Applier, *memChecks, *memEvents, *memSegments) {
	checks := &memChecks{}
	events := &memEvents{}
	segs := &memSegments{}
	a := New(setter, checks, events, segs, utils.NewLogger("error"))
	a.SetRetryPolicy(3, time.Millisecond)
	return a, checks, events, segs
}

func testItem() Item {
	return Item{ProductID: "p1", CityID: "almaty", CurrentPrice: 1000}
}

func TestApply_NoChangeWritesCheckRecord(t *testing.T) {
	setter := &fakeSetter{}
	a, checks, events, _ := newTestApplier(setter)

	result := a.Apply(context.Background(), testItem(), strategy.Decision{
		Kind: strategy.NoChange, Reason: domain.ReasonStandard,
	})

	if result.Status != domain.CheckNoChange {
		t.Fatalf("Apply() status = %s, want %s", result.Status, domain.CheckNoChange)
	}
	if len(setter.calls) != 0 {
		t.Errorf("SetPrice called %d times for NoChange, want 0", len(setter.calls))
	}
	if len(checks.records) != 1 {
		t.Fatalf("check records = %d, want 1", len(checks.records))
	}
	if len(events.events) != 0 {
		t.Errorf("price events = %d, want 0", len(events.events))
	}
}

func TestApply_RetryProducesSingleEvent(t *testing.T) {
	// Один временный сбой, затем успех: ровно одно событие изменения цены
	setter := &fakeSetter{failures: 1}
	a, checks, events, segs := newTestApplier(setter)

	result := a.Apply(context.Background(), testItem(), strategy.Decision{
		Kind: strategy.SetPrice, NewPrice: 940, Reason: domain.ReasonStandard,
	})

	if result.Status != domain.CheckApplied {
		t.Fatalf("Apply() status = %s, want %s (err: %v)", result.Status, domain.CheckApplied, result.Err)
	}
	if len(events.events) != 1 {
		t.Fatalf("price events = %d, want exactly 1", len(events.events))
	}
	event := events.events[0]
	if event.OldPrice != 1000 || event.NewPrice != 940 {
		t.Errorf("event = %d → %d, want 1000 → 940", event.OldPrice, event.NewPrice)
	}
	// Повтор использует ту же целевую цену, без переоценки
	for i, price := range setter.calls {
		if price != 940 {
			t.Errorf("call %d used price %d, want 940", i, price)
		}
	}
	if segs.seg == nil || segs.seg.Price != 940 {
		t.Errorf("segment price not updated to 940: %+v", segs.seg)
	}
	if len(checks.records) != 1 || checks.records[0].Status != domain.CheckApplied {
		t.Errorf("check records = %+v, want single applied", checks.records)
	}
}

func TestApply_ExhaustedRetries(t *testing.T) {
	setter := &fakeSetter{failures: 10}
	a, checks, events, _ := newTestApplier(setter)

	result := a.Apply(context.Background(), testItem(), strategy.Decision{
		Kind: strategy.SetPrice, NewPrice: 940, Reason: domain.ReasonStandard,
	})

	if result.Status != domain.CheckFailed {
		t.Fatalf("Apply() status = %s, want %s", result.Status, domain.CheckFailed)
	}
	if !errors.Is(result.Err, domain.ErrApply) {
		t.Errorf("Apply() err = %v, want ErrApply", result.Err)
	}
	if len(setter.calls) != 3 {
		t.Errorf("SetPrice called %d times, want 3", len(setter.calls))
	}
	if len(events.events) != 0 {
		t.Errorf("price events = %d, want 0 on failure", len(events.events))
	}
	if len(checks.records) != 1 || checks.records[0].Status != domain.CheckFailed {
		t.Errorf("check records = %+v, want single failed", checks.records)
	}
}

func TestApply_PermanentErrorNoRetry(t *testing.T) {
	setter := &fakeSetter{permErr: &marketplace.APIError{StatusCode: http.StatusBadRequest, Code: 42, Message: "price rejected"}}
	a, _, events, _ := newTestApplier(setter)

	result := a.Apply(context.Background(), testItem(), strategy.Decision{
		Kind: strategy.SetPrice, NewPrice: 940, Reason: domain.ReasonStandard,
	})

	if result.Status != domain.CheckFailed {
		t.Fatalf("Apply() status = %s, want %s", result.Status, domain.CheckFailed)
	}
	if len(setter.calls) != 1 {
		t.Errorf("SetPrice called %d times for permanent error, want 1", len(setter.calls))
	}
	if len(events.events) != 0 {
		t.Errorf("price events = %d, want 0", len(events.events))
	}
}

func TestApply_PreOrderSkipped(t *testing.T) {
	setter := &fakeSetter{}
	a, checks, _, _ := newTestApplier(setter)

	result := a.Apply(context.Background(), testItem(), strategy.Decision{
		Kind: strategy.NoChange, Reason: domain.SkipReasonPreOrder,
	})

	if result.Status != domain.CheckSkipped {
		t.Fatalf("Apply() status = %s, want %s", result.Status, domain.CheckSkipped)
	}
	if checks.records[0].Reason != domain.SkipReasonPreOrder {
		t.Errorf("check reason = %q, want %q", checks.records[0].Reason, domain.SkipReasonPreOrder)
	}
}
