package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/arlan/demping-bot/internal/applier"
	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/internal/scheduler"
	"github.com/arlan/demping-bot/internal/segments"
	"github.com/arlan/demping-bot/pkg/utils"
)

type fakeConfigs struct {
	configs map[string]*domain.ProductConfig
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{configs: make(map[string]*domain.ProductConfig)}
}

func (f *fakeConfigs) CreateOrUpdate(cfg *domain.ProductConfig) error {
	copied := *cfg
	f.configs[cfg.ProductID] = &copied
	return nil
}

func (f *fakeConfigs) Get(productID string) (*domain.ProductConfig, error) {
	cfg, ok := f.configs[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (f *fakeConfigs) GetAll() ([]domain.ProductConfig, error) {
	var result []domain.ProductConfig
	for _, cfg := range f.configs {
		result = append(result, *cfg)
	}
	return result, nil
}

func (f *fakeConfigs) GetActive() ([]domain.ProductConfig, error) {
	var result []domain.ProductConfig
	for _, cfg := range f.configs {
		if cfg.BotActive() {
			result = append(result, *cfg)
		}
	}
	return result, nil
}

func (f *fakeConfigs) SetMode(productID, mode string) error {
	cfg, ok := f.configs[productID]
	if !ok {
		return domain.ErrNotFound
	}
	cfg.Mode = mode
	return nil
}

func (f *fakeConfigs) SetPriority(productID string, priority bool) error {
	cfg, ok := f.configs[productID]
	if !ok {
		return domain.ErrNotFound
	}
	cfg.IsPriority = priority
	return nil
}

func (f *fakeConfigs) SetDegraded(productID string, degraded bool) error {
	cfg, ok := f.configs[productID]
	if !ok {
		return domain.ErrNotFound
	}
	cfg.Degraded = degraded
	return nil
}

type memSegRepo struct {
	segments map[string]map[string]domain.Segment // productID -> cityID -> segment
}

func newMemSegRepo() *memSegRepo {
	return &memSegRepo{segments: make(map[string]map[string]domain.Segment)}
}

func (m *memSegRepo) Save(seg *domain.Segment) error {
	if m.segments[seg.ProductID] == nil {
		m.segments[seg.ProductID] = make(map[string]domain.Segment)
	}
	m.segments[seg.ProductID][seg.CityID] = *seg
	return nil
}

func (m *memSegRepo) Update(seg *domain.Segment) error { return m.Save(seg) }

func (m *memSegRepo) Get(productID, cityID string) (*domain.Segment, error) {
	seg, ok := m.segments[productID][cityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &seg, nil
}

func (m *memSegRepo) GetByProduct(productID string) ([]domain.Segment, error) {
	var result []domain.Segment
	for _, seg := range m.segments[productID] {
		result = append(result, seg)
	}
	return result, nil
}

func (m *memSegRepo) Delete(productID, cityID string) error {
	delete(m.segments[productID], cityID)
	return nil
}

func (m *memSegRepo) SetBotActive(productID, cityID string, active bool) error {
	seg, ok := m.segments[productID][cityID]
	if !ok {
		return domain.ErrNotFound
	}
	seg.BotActive = active
	m.segments[productID][cityID] = seg
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
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].ProductID == productID && m.records[i].CityID == cityID {
			rec := m.records[i]
			return &rec, nil
		}
	}
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

type fakeMarketplace struct {
	points       []domain.PickupPoint
	ourPrice     int64
	floor        int64
	offers       []domain.CompetitorOffer
	pending      bool
	fetchErr     error
	setErr       error
	setCalls     []int64
	excludedSeen []string
}

func (f *fakeMarketplace) GetPickupPoints(ctx context.Context, productID string) ([]domain.PickupPoint, error) {
	return f.points, nil
}

func (f *fakeMarketplace) GetCurrentPrice(ctx context.Context, productID string) (int64, error) {
	return f.ourPrice, nil
}

func (f *fakeMarketplace) GetMinProfitFloor(ctx context.Context, productID string) (int64, error) {
	return f.floor, nil
}

func (f *fakeMarketplace) FetchOffers(ctx context.Context, productID, cityID string, excludedMerchants []string, deliveryFilter string) (*domain.CompetitorSnapshot, error) {
	f.excludedSeen = excludedMerchants
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	offers := f.offers
	return &domain.CompetitorSnapshot{
		Offers:         offers,
		OurPrice:       f.ourPrice,
		OurPosition:    2,
		ListingPending: f.pending,
		FetchedAt:      time.Now(),
	}, nil
}

func (f *fakeMarketplace) SetPrice(ctx context.Context, productID, cityID string, price int64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.setCalls = append(f.setCalls, price)
	return nil
}

type fixtures struct {
	configs *fakeConfigs
	segRepo *memSegRepo
	checks  *memChecks
	events  *memEvents
	market  *fakeMarketplace
	sched   *scheduler.Scheduler
	lane    *scheduler.PriorityLane
}

func newTestEngine(excluded ...string) (*Engine, *fixtures) {
	logger := utils.NewLogger("error")
	f := &fixtures{
		configs: newFakeConfigs(),
		segRepo: newMemSegRepo(),
		checks:  &memChecks{},
		events:  &memEvents{},
		market: &fakeMarketplace{
			points: []domain.PickupPoint{
				{ID: "pp1", CityID: "almaty", CityName: "Алматы", Enabled: true},
			},
			ourPrice: 1000,
			floor:    500,
		},
		lane: scheduler.NewPriorityLane(2),
	}
	f.sched = scheduler.New(scheduler.Config{
		CheckInterval: 30 * time.Minute,
		Workers:       1,
	}, f.lane, logger)

	resolver := segments.NewResolver(f.market, f.segRepo, logger, time.Minute)
	priceApplier := applier.New(f.market, f.checks, f.events, f.segRepo, logger)
	priceApplier.SetRetryPolicy(2, time.Millisecond)

	e := New(f.configs, f.checks, f.segRepo, resolver, f.market, f.market, priceApplier, f.sched, f.lane, nil, logger, excluded)
	return e, f
}

func activeConfig(productID string) *domain.ProductConfig {
	return &domain.ProductConfig{
		ProductID: productID,
		Strategy:  domain.StrategyStandard,
		PriceStep: 10,
		Mode:      domain.ModeStandard,
	}
}

func TestProcess_AppliesPriceEndToEnd(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	f.configs.CreateOrUpdate(activeConfig("p1"))
	f.market.offers = []domain.CompetitorOffer{{MerchantID: "rival", Price: 950}}

	if err := e.Process(ctx, "p1", "almaty"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(f.market.setCalls) != 1 || f.market.setCalls[0] != 940 {
		t.Fatalf("SetPrice calls = %v, want [940]", f.market.setCalls)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("price events = %d, want 1", len(f.events.events))
	}
	event := f.events.events[0]
	if event.OldPrice != 1000 || event.NewPrice != 940 || event.Reason != domain.ReasonStandard {
		t.Errorf("event = %+v, want 1000 → 940 standard", event)
	}
	seg, err := f.segRepo.Get("p1", "almaty")
	if err != nil || seg.Price != 940 {
		t.Errorf("segment price = %v, %v; want 940", seg, err)
	}
}

func TestCheckNow_DoesNotApply(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	f.configs.CreateOrUpdate(activeConfig("p1"))
	f.market.offers = []domain.CompetitorOffer{{MerchantID: "rival", Price: 950}}

	results, err := e.CheckNow(ctx, "p1")
	if err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].TargetPrice != 940 {
		t.Errorf("target price = %d, want 940", results[0].TargetPrice)
	}
	if len(f.market.setCalls) != 0 {
		t.Errorf("SetPrice called %d times by check_now, want 0", len(f.market.setCalls))
	}
	if len(f.events.events) != 0 {
		t.Errorf("price events = %d, want 0", len(f.events.events))
	}
	// Оценка все равно оставляет запись проверки
	if len(f.checks.records) != 1 {
		t.Errorf("check records = %d, want 1", len(f.checks.records))
	}
}

func TestRunNow_AppliesDecision(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	f.configs.CreateOrUpdate(activeConfig("p1"))
	f.market.offers = []domain.CompetitorOffer{{MerchantID: "rival", Price: 950}}

	results, err := e.RunNow(ctx, "p1")
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if results[0].Decision != domain.CheckApplied {
		t.Errorf("decision = %s, want applied", results[0].Decision)
	}
	if len(f.market.setCalls) != 1 {
		t.Errorf("SetPrice calls = %d, want 1", len(f.market.setCalls))
	}
}

func TestSetBotActive_PartialFailure(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	f.configs.CreateOrUpdate(activeConfig("A"))
	f.configs.CreateOrUpdate(activeConfig("C"))

	results := e.SetBotActive(ctx, []string{"A", "B", "C"}, false)

	want := map[string]bool{"A": true, "B": false, "C": true}
	for _, r := range results {
		if r.OK != want[r.ProductID] {
			t.Errorf("result[%s] ok = %v, want %v (err: %s)", r.ProductID, r.OK, want[r.ProductID], r.Error)
		}
	}

	// A и C реально выключены, несмотря на сбой B
	for _, id := range []string{"A", "C"} {
		cfg, err := f.configs.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if cfg.Mode != domain.ModeOff {
			t.Errorf("config %s mode = %s, want off", id, cfg.Mode)
		}
	}
}

func TestProcess_NoSegmentsNeverRecords(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	f.configs.CreateOrUpdate(activeConfig("p1"))
	f.market.points = nil // нет точек выдачи
	f.sched.Track("p1", "almaty", time.Time{})

	if err := e.Process(ctx, "p1", "almaty"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(f.checks.records) != 0 {
		t.Errorf("check records = %d, want 0 for product without segments", len(f.checks.records))
	}
	if f.sched.Tracked() != 0 {
		t.Errorf("tracked = %d, want 0 after untrack", f.sched.Tracked())
	}
}

func TestProcess_FetchErrorRecordsFailure(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	f.configs.CreateOrUpdate(activeConfig("p1"))
	f.market.fetchErr = errors.New("timeout")

	err := e.Process(ctx, "p1", "almaty")
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("Process() error = %v, want ErrFetch", err)
	}
	if len(f.checks.records) != 1 || f.checks.records[0].Status != domain.CheckFailed {
		t.Errorf("check records = %+v, want single failed", f.checks.records)
	}
	if len(f.market.setCalls) != 0 {
		t.Errorf("SetPrice called after fetch error")
	}
}

func TestProcess_PreOrderSkips(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	cfg := activeConfig("p1")
	cfg.PreOrderDays = 7
	f.configs.CreateOrUpdate(cfg)
	f.market.offers = []domain.CompetitorOffer{{MerchantID: "rival", Price: 100}}
	f.market.pending = true

	if err := e.Process(ctx, "p1", "almaty"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(f.market.setCalls) != 0 {
		t.Errorf("SetPrice called for pending pre-order")
	}
	if len(f.checks.records) != 1 || f.checks.records[0].Status != domain.CheckSkipped {
		t.Errorf("check records = %+v, want single skipped", f.checks.records)
	}
}

func TestProcess_MinProfitFloorDefault(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	cfg := activeConfig("p1") // min_price не задан
	f.configs.CreateOrUpdate(cfg)
	f.market.floor = 980
	f.market.offers = []domain.CompetitorOffer{{MerchantID: "rival", Price: 900}}

	if err := e.Process(ctx, "p1", "almaty"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	// Целевая 890 поднята до маржинального пола 980
	if len(f.market.setCalls) != 1 || f.market.setCalls[0] != 980 {
		t.Errorf("SetPrice calls = %v, want [980]", f.market.setCalls)
	}
}

func TestProcess_ExcludedMerchantsReachFetcher(t *testing.T) {
	e, f := newTestEngine("spammer1", "spammer2")
	ctx := context.Background()

	f.configs.CreateOrUpdate(activeConfig("p1"))
	if err := e.Process(ctx, "p1", "almaty"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(f.market.excludedSeen) != 2 {
		t.Errorf("excluded merchants passed = %v, want 2 ids", f.market.excludedSeen)
	}
}

func TestUpsertConfig_Validation(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  *domain.ProductConfig
	}{
		{
			name: "unknown strategy",
			cfg:  &domain.ProductConfig{ProductID: "p1", Strategy: "chase_rainbows", Mode: domain.ModeStandard},
		},
		{
			name: "collapsed bounds",
			cfg: &domain.ProductConfig{
				ProductID: "p1",
				Strategy:  domain.StrategyStandard,
				Mode:      domain.ModeStandard,
				MinPrice:  sql.NullInt64{Int64: 1000, Valid: true},
				MaxPrice:  sql.NullInt64{Int64: 900, Valid: true},
			},
		},
		{
			name: "stay_top_n without rank",
			cfg:  &domain.ProductConfig{ProductID: "p1", Strategy: domain.StrategyStayTopN, Mode: domain.ModeStandard},
		},
		{
			name: "delivery mode without filter",
			cfg:  &domain.ProductConfig{ProductID: "p1", Strategy: domain.StrategyStandard, Mode: domain.ModeDelivery},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.UpsertConfig(ctx, tt.cfg); !errors.Is(err, domain.ErrConfig) {
				t.Errorf("UpsertConfig() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestUpsertConfig_PriorityCap(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		cfg := activeConfig(id)
		cfg.IsPriority = true
		if err := e.UpsertConfig(ctx, cfg); err != nil {
			t.Fatalf("UpsertConfig(%s) error = %v", id, err)
		}
	}

	cfg := activeConfig("p3")
	cfg.IsPriority = true
	if err := e.UpsertConfig(ctx, cfg); !errors.Is(err, domain.ErrPriorityLimit) {
		t.Fatalf("UpsertConfig(p3) error = %v, want ErrPriorityLimit", err)
	}
}

func TestUpsertConfig_TracksSegments(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	if err := e.UpsertConfig(ctx, activeConfig("p1")); err != nil {
		t.Fatalf("UpsertConfig() error = %v", err)
	}
	if f.sched.Tracked() != 1 {
		t.Errorf("tracked = %d, want 1", f.sched.Tracked())
	}

	// Выключение убирает товар из планирования
	cfg := activeConfig("p1")
	cfg.Mode = domain.ModeOff
	if err := e.UpsertConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertConfig(off) error = %v", err)
	}
	if f.sched.Tracked() != 0 {
		t.Errorf("tracked = %d after disable, want 0", f.sched.Tracked())
	}
}

func TestRunCityDemping_SubsetOnly(t *testing.T) {
	e, f := newTestEngine()
	ctx := context.Background()

	f.market.points = []domain.PickupPoint{
		{ID: "pp1", CityID: "almaty", CityName: "Алматы", Enabled: true},
		{ID: "pp2", CityID: "astana", CityName: "Астана", Enabled: true},
	}
	f.configs.CreateOrUpdate(activeConfig("p1"))
	f.market.offers = []domain.CompetitorOffer{{MerchantID: "rival", Price: 950}}

	results, err := e.RunCityDemping(ctx, "p1", []string{"astana"})
	if err != nil {
		t.Fatalf("RunCityDemping() error = %v", err)
	}
	if len(results) != 1 || results[0].CityID != "astana" {
		t.Fatalf("results = %+v, want only astana", results)
	}
}
