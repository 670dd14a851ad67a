package strategy

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/arlan/demping-bot/internal/domain"
)

// DecisionKind тип решения оценщика
type DecisionKind int

const (
	NoChange DecisionKind = iota
	SetPrice
	Failed
)

func (k DecisionKind) String() string {
	switch k {
	case NoChange:
		return "no_change"
	case SetPrice:
		return "set_price"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Decision результат оценки стратегии для одного сегмента
type Decision struct {
	Kind     DecisionKind
	NewPrice int64  // заполнено только для SetPrice
	Reason   string // причина для журнала изменений
	Err      error  // заполнено только для Failed
}

// EvalInput входные данные оценщика. Все цены в целых единицах валюты
type EvalInput struct {
	CurrentPrice    int64
	Offers          []domain.CompetitorOffer
	Strategy        string
	TargetRank      int // для stay_top_n
	MinPrice        sql.NullInt64
	MaxPrice        sql.NullInt64
	PriceStep       int64
	DeliveryFilter  string // непустой = демпинг по скорости доставки
	PreOrderPending bool
}

// Evaluate вычисляет решение по цене. Чистая функция: не блокируется,
// не обращается к внешним сервисам, конкуренты уже отфильтрованы
// от исключенных продавцов на уровне загрузки снапшота
func Evaluate(in EvalInput) Decision {
	// Предзаказная карточка еще не продается — демпинг бессмысленен
	// и не должен трогать состояние цены
	if in.PreOrderPending {
		return Decision{Kind: NoChange, Reason: domain.SkipReasonPreOrder}
	}

	if in.MinPrice.Valid && in.MaxPrice.Valid && in.MinPrice.Int64 > in.MaxPrice.Int64 {
		return Decision{
			Kind: Failed,
			Err:  fmt.Errorf("%w: min=%d max=%d", domain.ErrInvalidBounds, in.MinPrice.Int64, in.MaxPrice.Int64),
		}
	}

	step := in.PriceStep
	if step <= 0 {
		step = domain.DefaultPriceStep
	}

	offers := in.Offers
	reason := in.Strategy
	if in.DeliveryFilter != "" {
		offers = FilterByDelivery(offers, in.DeliveryFilter)
		reason = domain.ReasonDelivery
	}

	switch in.Strategy {
	case domain.StrategyStandard:
		return evalStandard(in.CurrentPrice, offers, step, in.MinPrice, in.MaxPrice, reason)
	case domain.StrategyAlwaysFirst:
		return evalAlwaysFirst(in.CurrentPrice, offers, step, in.MinPrice, in.MaxPrice, reason)
	case domain.StrategyStayTopN:
		return evalStayTopN(in.CurrentPrice, offers, in.TargetRank, step, in.MinPrice, in.MaxPrice, reason)
	default:
		return Decision{Kind: Failed, Err: fmt.Errorf("%w: %q", domain.ErrInvalidStrategy, in.Strategy)}
	}
}

// evalStandard опускает цену только когда есть конкурент строго дешевле нас
func evalStandard(current int64, offers []domain.CompetitorOffer, step int64, min, max sql.NullInt64, reason string) Decision {
	cheapest, found := minBelow(offers, current)
	if !found {
		return Decision{Kind: NoChange, Reason: reason}
	}

	target := min64(cheapest-step, current-step)
	target = clamp(target, min, max)

	// Равенство с текущей ценой после клампа — остаемся на месте,
	// иначе на нижней границе начнется осцилляция
	if target == current {
		return Decision{Kind: NoChange, Reason: reason}
	}

	return Decision{Kind: SetPrice, NewPrice: target, Reason: reason}
}

// evalAlwaysFirst всегда целится ниже самого дешевого конкурента.
// Нижняя граница важнее намерения быть первым: если кламп поднимает
// цену выше текущей — применяем повышение
func evalAlwaysFirst(current int64, offers []domain.CompetitorOffer, step int64, min, max sql.NullInt64, reason string) Decision {
	if len(offers) == 0 {
		return Decision{Kind: NoChange, Reason: reason}
	}

	cheapest := offers[0].Price
	for _, o := range offers[1:] {
		if o.Price < cheapest {
			cheapest = o.Price
		}
	}

	target := clamp(cheapest-step, min, max)
	if target == current {
		return Decision{Kind: NoChange, Reason: reason}
	}

	return Decision{Kind: SetPrice, NewPrice: target, Reason: reason}
}

// evalStayTopN держит цену в пределах целевого места в выдаче
func evalStayTopN(current int64, offers []domain.CompetitorOffer, rank int, step int64, min, max sql.NullInt64, reason string) Decision {
	if rank < 1 {
		return Decision{Kind: Failed, Err: fmt.Errorf("%w: target rank %d", domain.ErrInvalidStrategy, rank)}
	}

	// Конкурентов меньше целевого места — мы уже в топе
	if len(offers) < rank {
		return Decision{Kind: NoChange, Reason: reason}
	}

	sorted := make([]int64, len(offers))
	for i, o := range offers {
		sorted[i] = o.Price
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pn := sorted[rank-1]
	if current <= pn {
		return Decision{Kind: NoChange, Reason: reason}
	}

	target := clamp(pn-step, min, max)
	if target == current {
		return Decision{Kind: NoChange, Reason: reason}
	}

	return Decision{Kind: SetPrice, NewPrice: target, Reason: reason}
}

// FilterByDelivery исключает предложения, не проходящие фильтр скорости доставки
func FilterByDelivery(offers []domain.CompetitorOffer, filter string) []domain.CompetitorOffer {
	allowed := deliveryClasses(filter)
	if allowed == nil {
		return offers
	}

	var filtered []domain.CompetitorOffer
	for _, o := range offers {
		if allowed[o.DeliveryClass] {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

// deliveryClasses возвращает множество допустимых классов доставки для фильтра.
// Фильтры вложены: till_5_days включает till_3_days и так далее
func deliveryClasses(filter string) map[string]bool {
	switch filter {
	case domain.DeliverySameOrFaster:
		return map[string]bool{domain.DeliverySameOrFaster: true}
	case domain.DeliveryTodayTomorrow:
		return map[string]bool{
			domain.DeliverySameOrFaster:  true,
			domain.DeliveryTodayTomorrow: true,
		}
	case domain.DeliveryTill3Days:
		return map[string]bool{
			domain.DeliverySameOrFaster:  true,
			domain.DeliveryTodayTomorrow: true,
			domain.DeliveryTill3Days:     true,
		}
	case domain.DeliveryTill5Days:
		return map[string]bool{
			domain.DeliverySameOrFaster:  true,
			domain.DeliveryTodayTomorrow: true,
			domain.DeliveryTill3Days:     true,
			domain.DeliveryTill5Days:     true,
		}
	default:
		return nil
	}
}

// minBelow ищет минимальную цену конкурента строго ниже текущей
func minBelow(offers []domain.CompetitorOffer, current int64) (int64, bool) {
	var best int64
	found := false
	for _, o := range offers {
		if o.Price >= current {
			continue
		}
		if !found || o.Price < best {
			best = o.Price
			found = true
		}
	}
	return best, found
}

func clamp(target int64, min, max sql.NullInt64) int64 {
	if min.Valid && target < min.Int64 {
		target = min.Int64
	}
	if max.Valid && target > max.Int64 {
		target = max.Int64
	}
	return target
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
