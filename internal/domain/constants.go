package domain

import "time"

// Demping strategies
const (
	StrategyStandard    = "standard"
	StrategyAlwaysFirst = "always_first"
	StrategyStayTopN    = "stay_top_n"
)

// Demping modes
const (
	ModeOff      = "off"
	ModeStandard = "standard"
	ModeDelivery = "delivery"
)

// Delivery filters
const (
	DeliverySameOrFaster  = "same_or_faster"
	DeliveryTodayTomorrow = "today_tomorrow"
	DeliveryTill3Days     = "till_3_days"
	DeliveryTill5Days     = "till_5_days"
)

// Check statuses
const (
	CheckApplied  = "applied"
	CheckNoChange = "no_change"
	CheckFailed   = "failed"
	CheckSkipped  = "skipped"
)

// Price change reasons
const (
	ReasonStandard    = "standard"
	ReasonAlwaysFirst = "always_first"
	ReasonStayTopN    = "stay_top_n"
	ReasonManual      = "manual"
	ReasonDelivery    = "delivery"
)

// Check-record reasons при отсутствии изменения цены
const (
	SkipReasonPreOrder   = "pre_order_pending"
	SkipReasonBotPaused  = "bot_paused"
	SkipReasonNoSegments = "no_segments"
)

// Параметры планировщика
const (
	PriorityCheckInterval = 3 * time.Minute // фиксированный интервал приоритетной полосы
	FailuresUntilDegraded = 3               // подряд неудачных проверок до пометки degraded
)

// Параметры применения цены
const (
	ApplyMaxAttempts = 3
	ApplyBackoffBase = 2 * time.Second
	DefaultPriceStep = int64(1)
)

// ValidStrategy проверяет, что стратегия известна движку
func ValidStrategy(s string) bool {
	switch s {
	case StrategyStandard, StrategyAlwaysFirst, StrategyStayTopN:
		return true
	}
	return false
}

// ValidDeliveryFilter проверяет класс скорости доставки
func ValidDeliveryFilter(f string) bool {
	switch f {
	case DeliverySameOrFaster, DeliveryTodayTomorrow, DeliveryTill3Days, DeliveryTill5Days:
		return true
	}
	return false
}
