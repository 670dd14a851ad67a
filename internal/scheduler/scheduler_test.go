package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/pkg/utils"
)

type nopProcessor struct{}

func (nopProcessor) Process(ctx context.Context, productID, cityID string) error { return nil }

func testScheduler(hours WorkHours) *Scheduler {
	cfg := Config{
		CheckInterval:    30 * time.Minute,
		PriorityInterval: 3 * time.Minute,
		Tick:             time.Second,
		Workers:          2,
		ItemDeadline:     time.Minute,
		Hours:            hours,
	}
	s := New(cfg, NewPriorityLane(10), utils.NewLogger("error"))
	s.SetProcessor(nopProcessor{})
	return s
}

func drain(s *Scheduler) []itemKey {
	var keys []itemKey
	for {
		select {
		case key := <-s.queue:
			keys = append(keys, key)
		default:
			return keys
		}
	}
}

func TestDispatch_DueByInterval(t *testing.T) {
	s := testScheduler(WorkHours{})
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	s.Track("p1", "almaty", base.Add(-31*time.Minute)) // просрочен
	s.Track("p2", "almaty", base.Add(-10*time.Minute)) // еще рано

	s.Dispatch()

	keys := drain(s)
	if len(keys) != 1 || keys[0].ProductID != "p1" {
		t.Fatalf("due = %v, want [p1/almaty]", keys)
	}
}

func TestDispatch_PriorityLaneShorterInterval(t *testing.T) {
	s := testScheduler(WorkHours{})
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	if err := s.lane.Add("p1"); err != nil {
		t.Fatalf("lane.Add() error = %v", err)
	}
	s.Track("p1", "almaty", base.Add(-5*time.Minute))
	s.Track("p2", "almaty", base.Add(-5*time.Minute))

	s.Dispatch()

	keys := drain(s)
	if len(keys) != 1 || keys[0].ProductID != "p1" {
		t.Fatalf("due = %v, want only priority p1", keys)
	}
}

func TestDispatch_InFlightDeduplicated(t *testing.T) {
	s := testScheduler(WorkHours{})
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	s.Track("p1", "almaty", base.Add(-time.Hour))
	s.items[itemKey{ProductID: "p1", CityID: "almaty"}].state = stateInFlight

	s.Dispatch()

	if keys := drain(s); len(keys) != 0 {
		t.Fatalf("due = %v, want none while InFlight", keys)
	}
}

func TestDispatch_OutsideWorkHours(t *testing.T) {
	s := testScheduler(WorkHours{Start: 9, End: 18})
	night := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return night })

	s.Track("p1", "almaty", night.Add(-time.Hour))
	s.Dispatch()

	if keys := drain(s); len(keys) != 0 {
		t.Fatalf("due = %v, want none outside work hours", keys)
	}
}

func TestDispatch_PauseDoesNotCountAgainstInterval(t *testing.T) {
	s := testScheduler(WorkHours{Start: 9, End: 18})

	// 17:50: проверили p1
	lastCheck := time.Date(2025, 6, 2, 17, 50, 0, 0, time.UTC)
	s.Track("p1", "almaty", lastCheck)

	// 18:00:10: диспетчер замечает закрытие окна
	now := time.Date(2025, 6, 2, 18, 0, 10, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	s.Dispatch()
	if keys := drain(s); len(keys) != 0 {
		t.Fatalf("due = %v, want none after window close", keys)
	}

	// 09:05 следующего дня: из интервала прошло лишь ~15 минут в окне
	// (17:50-18:00 и 09:00-09:05), элемент еще не due
	now = time.Date(2025, 6, 3, 9, 5, 0, 0, time.UTC)
	s.Dispatch()
	if keys := drain(s); len(keys) != 0 {
		t.Fatalf("due = %v, want none right after window opens", keys)
	}

	// Спустя полный интервал внутри окна — due
	now = time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC)
	s.Dispatch()
	keys := drain(s)
	if len(keys) != 1 {
		t.Fatalf("due = %v, want p1 after full in-window interval", keys)
	}
}

func TestComplete_AdvancesLastCheckOnFailure(t *testing.T) {
	s := testScheduler(WorkHours{})
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	prev := base.Add(-time.Hour)
	s.Track("p1", "almaty", prev)
	s.complete(itemKey{ProductID: "p1", CityID: "almaty"}, errors.New("fetch failed"))

	got, ok := s.LastCheck("p1", "almaty")
	if !ok {
		t.Fatal("item not tracked")
	}
	if !got.Equal(base) {
		t.Errorf("lastCheck = %v, want advanced to %v", got, base)
	}
	if got.Before(prev) {
		t.Error("lastCheck moved backwards")
	}
}

func TestComplete_DegradedAfterThreshold(t *testing.T) {
	s := testScheduler(WorkHours{})
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	var degraded []string
	s.OnDegraded = func(productID, cityID string) {
		degraded = append(degraded, productID+"/"+cityID)
	}

	key := itemKey{ProductID: "p1", CityID: "almaty"}
	s.Track("p1", "almaty", base)

	failure := errors.New("fetch failed")
	for i := 0; i < domain.FailuresUntilDegraded-1; i++ {
		s.complete(key, failure)
	}
	if len(degraded) != 0 {
		t.Fatalf("degraded fired early: %v", degraded)
	}

	s.complete(key, failure)
	if len(degraded) != 1 || degraded[0] != "p1/almaty" {
		t.Fatalf("degraded = %v, want [p1/almaty]", degraded)
	}

	// Повторные сбои после порога не дублируют событие,
	// успех сбрасывает счетчик
	s.complete(key, failure)
	if len(degraded) != 1 {
		t.Fatalf("degraded = %v, want single event", degraded)
	}
	s.complete(key, nil)
	if s.items[key].failures != 0 {
		t.Errorf("failures = %d after success, want 0", s.items[key].failures)
	}
}

func TestTrack_MonotonicLastCheck(t *testing.T) {
	s := testScheduler(WorkHours{})
	later := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	s.Track("p1", "almaty", later)
	s.Track("p1", "almaty", earlier) // не должен откатить назад

	got, _ := s.LastCheck("p1", "almaty")
	if !got.Equal(later) {
		t.Errorf("lastCheck = %v, want %v (monotonic)", got, later)
	}
}

func TestUntrackProduct(t *testing.T) {
	s := testScheduler(WorkHours{})
	now := time.Now()
	s.Track("p1", "almaty", now)
	s.Track("p1", "astana", now)
	s.Track("p2", "almaty", now)

	s.UntrackProduct("p1")
	if s.Tracked() != 1 {
		t.Errorf("Tracked() = %d, want 1", s.Tracked())
	}
}

func TestPriorityLane_CapacityEnforced(t *testing.T) {
	lane := NewPriorityLane(2)

	if err := lane.Add("p1"); err != nil {
		t.Fatalf("Add(p1) error = %v", err)
	}
	if err := lane.Add("p2"); err != nil {
		t.Fatalf("Add(p2) error = %v", err)
	}
	if err := lane.Add("p3"); !errors.Is(err, domain.ErrPriorityLimit) {
		t.Fatalf("Add(p3) error = %v, want ErrPriorityLimit", err)
	}

	// Повторное добавление члена полосы не считается
	if err := lane.Add("p1"); err != nil {
		t.Fatalf("Add(p1) again error = %v", err)
	}

	lane.Remove("p1")
	if err := lane.Add("p3"); err != nil {
		t.Fatalf("Add(p3) after Remove error = %v", err)
	}
	if lane.Used() != 2 {
		t.Errorf("Used() = %d, want 2", lane.Used())
	}
}

func TestWorkHours_Contains(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2025, 6, 2, hour, 30, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		hours WorkHours
		hour  int
		want  bool
	}{
		{"round the clock", WorkHours{}, 3, true},
		{"inside day window", WorkHours{Start: 9, End: 18}, 12, true},
		{"before day window", WorkHours{Start: 9, End: 18}, 8, false},
		{"at end of day window", WorkHours{Start: 9, End: 18}, 18, false},
		{"overnight window late", WorkHours{Start: 22, End: 6}, 23, true},
		{"overnight window early", WorkHours{Start: 22, End: 6}, 3, true},
		{"overnight window daytime", WorkHours{Start: 22, End: 6}, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.hours.Contains(at(tt.hour)); got != tt.want {
				t.Errorf("Contains(%d:30) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}
