package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/pkg/utils"
)

// Processor обрабатывает одну пару (товар, город) от начала до конца:
// загрузка снапшота, оценка, применение, запись результата
type Processor interface {
	Process(ctx context.Context, productID, cityID string) error
}

// itemState состояние элемента в машине Idle -> Due -> InFlight -> Idle
type itemState int

const (
	stateIdle itemState = iota
	stateDue
	stateInFlight
)

type itemKey struct {
	ProductID string
	CityID    string
}

type workItem struct {
	key       itemKey
	lastCheck time.Time
	state     itemState
	failures  int // подряд, сбрасывается успехом
}

// Config настройки планировщика
type Config struct {
	CheckInterval    time.Duration // интервал обычной полосы
	PriorityInterval time.Duration // интервал приоритетной полосы
	Tick             time.Duration // период сканирования на due-элементы
	Workers          int           // размер пула воркеров
	ItemDeadline     time.Duration // дедлайн одной обработки
	Hours            WorkHours
}

// Scheduler решает, когда каждая пара (товар, город) подлежит проверке,
// и раздает работу ограниченному пулу воркеров. Один воркер владеет
// элементом целиком; повторная постановка InFlight-элемента дедуплицируется
type Scheduler struct {
	cfg       Config
	lane      *PriorityLane
	processor Processor
	logger    *utils.Logger
	now       func() time.Time

	// OnDegraded вызывается когда элемент достигает порога подряд идущих сбоев
	OnDegraded func(productID, cityID string)

	mu          sync.Mutex
	items       map[itemKey]*workItem
	windowOpen  bool
	closedSince time.Time

	queue    chan itemKey
	stopOnce sync.Once
	stopChan chan struct{}
}

// New создает планировщик. Processor подключается отдельно через
// SetProcessor: движок и планировщик ссылаются друг на друга
func New(cfg Config, lane *PriorityLane, logger *utils.Logger) *Scheduler {
	if cfg.PriorityInterval <= 0 {
		cfg.PriorityInterval = domain.PriorityCheckInterval
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 15 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ItemDeadline <= 0 {
		cfg.ItemDeadline = 2 * time.Minute
	}

	return &Scheduler{
		cfg:        cfg,
		lane:       lane,
		logger:     logger,
		now:        time.Now,
		items:      make(map[itemKey]*workItem),
		windowOpen: true,
		queue:      make(chan itemKey, cfg.Workers*4),
		stopChan:   make(chan struct{}),
	}
}

// SetProcessor задает обработчик due-элементов. Должен быть вызван до Run
func (s *Scheduler) SetProcessor(p Processor) {
	s.processor = p
}

// SetClock подменяет источник времени (для тестов)
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Track регистрирует пару (товар, город). Товары без сегментов сюда
// не попадают вовсе — у них нечего планировать
func (s *Scheduler) Track(productID, cityID string, lastCheck time.Time) {
	key := itemKey{ProductID: productID, CityID: cityID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.items[key]; ok {
		if lastCheck.After(item.lastCheck) {
			item.lastCheck = lastCheck
		}
		return
	}
	s.items[key] = &workItem{key: key, lastCheck: lastCheck}
}

// Untrack убирает пару из планирования
func (s *Scheduler) Untrack(productID, cityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, itemKey{ProductID: productID, CityID: cityID})
}

// UntrackProduct убирает все сегменты товара
func (s *Scheduler) UntrackProduct(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		if key.ProductID == productID {
			delete(s.items, key)
		}
	}
}

// MarkChecked продвигает lastCheck после ручной проверки, монотонно
func (s *Scheduler) MarkChecked(productID, cityID string, checkedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[itemKey{ProductID: productID, CityID: cityID}]; ok {
		if checkedAt.After(item.lastCheck) {
			item.lastCheck = checkedAt
		}
	}
}

// Tracked возвращает число отслеживаемых пар
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Run запускает пул воркеров и цикл диспетчера, блокируется до отмены ctx
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("🗓 Scheduler started: %d workers, interval %s, priority %s",
		s.cfg.Workers, s.cfg.CheckInterval, s.cfg.PriorityInterval)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Dispatch()
		case <-ctx.Done():
			s.Stop()
			wg.Wait()
			s.logger.Info("🗓 Scheduler stopped")
			return
		case <-s.stopChan:
			wg.Wait()
			return
		}
	}
}

// Stop закрывает очередь воркеров
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		close(s.queue)
	})
}

// Dispatch один проход диспетчера: переводит due-элементы в очередь воркеров
func (s *Scheduler) Dispatch() {
	now := s.now()

	s.mu.Lock()

	// Вне рабочего окна ничего не становится due, и простой не съедает
	// интервал: при открытии окна lastCheck сдвигается на длину паузы
	if !s.cfg.Hours.Contains(now) {
		if s.windowOpen {
			s.windowOpen = false
			s.closedSince = now
		}
		s.mu.Unlock()
		return
	}
	if !s.windowOpen {
		pause := now.Sub(s.closedSince)
		for _, item := range s.items {
			item.lastCheck = item.lastCheck.Add(pause)
		}
		s.windowOpen = true
		s.logger.Info("🕘 Work window opened, shifted schedules by %s", pause.Round(time.Second))
	}

	var due []itemKey
	for key, item := range s.items {
		if item.state != stateIdle {
			continue // InFlight или уже в очереди — дедупликация
		}
		interval := s.cfg.CheckInterval
		if s.lane.Has(key.ProductID) {
			interval = s.cfg.PriorityInterval
		}
		if now.Sub(item.lastCheck) < interval {
			continue
		}
		item.state = stateDue
		due = append(due, key)
	}
	s.mu.Unlock()

	for _, key := range due {
		select {
		case s.queue <- key:
		default:
			// Очередь забита — вернем в Idle, возьмем на следующем тике
			s.mu.Lock()
			if item, ok := s.items[key]; ok && item.state == stateDue {
				item.state = stateIdle
			}
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		var key itemKey
		var ok bool
		select {
		case <-ctx.Done():
			return
		case key, ok = <-s.queue:
			if !ok {
				return
			}
		}

		s.mu.Lock()
		item, tracked := s.items[key]
		if !tracked || item.state == stateInFlight {
			s.mu.Unlock()
			continue
		}
		item.state = stateInFlight
		s.mu.Unlock()

		itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemDeadline)
		err := s.processor.Process(itemCtx, key.ProductID, key.CityID)
		cancel()

		s.complete(key, err)
	}
}

// complete возвращает элемент в Idle. lastCheck продвигается и при сбое,
// чтобы не долбить сломанный фид конкурентов в горячем цикле
func (s *Scheduler) complete(key itemKey, err error) {
	now := s.now()

	s.mu.Lock()
	item, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return
	}

	item.state = stateIdle
	if now.After(item.lastCheck) {
		item.lastCheck = now
	}

	var degraded bool
	if err != nil {
		item.failures++
		degraded = item.failures == domain.FailuresUntilDegraded
	} else {
		item.failures = 0
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Check failed for %s/%s: %v", key.ProductID, key.CityID, err)
	}
	if degraded && s.OnDegraded != nil {
		s.logger.Error("⚠️ Item %s/%s degraded after %d consecutive failures",
			key.ProductID, key.CityID, domain.FailuresUntilDegraded)
		s.OnDegraded(key.ProductID, key.CityID)
	}
}

// LastCheck возвращает время последней проверки пары (для тестов и статуса)
func (s *Scheduler) LastCheck(productID, cityID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemKey{ProductID: productID, CityID: cityID}]
	if !ok {
		return time.Time{}, false
	}
	return item.lastCheck, true
}
