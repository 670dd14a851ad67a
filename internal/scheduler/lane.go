package scheduler

import (
	"sync"

	"github.com/arlan/demping-bot/internal/domain"
)

// PriorityLane ограниченный счетчик приоритетной полосы.
// Емкость фиксирована глобально, чтобы укороченный интервал приоритетных
// товаров не задушил обычную полосу. Превышение отклоняется на этапе
// конфигурации, а не молча игнорируется при планировании
type PriorityLane struct {
	mu       sync.Mutex
	capacity int
	members  map[string]bool
}

// NewPriorityLane создает полосу с заданной емкостью
func NewPriorityLane(capacity int) *PriorityLane {
	return &PriorityLane{
		capacity: capacity,
		members:  make(map[string]bool),
	}
}

// Add помечает товар приоритетным. Возвращает ErrPriorityLimit при переполнении
func (l *PriorityLane) Add(productID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.members[productID] {
		return nil
	}
	if len(l.members) >= l.capacity {
		return domain.ErrPriorityLimit
	}
	l.members[productID] = true
	return nil
}

// Remove убирает товар из приоритетной полосы
func (l *PriorityLane) Remove(productID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.members, productID)
}

// Has проверяет, в приоритетной ли полосе товар
func (l *PriorityLane) Has(productID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.members[productID]
}

// Used возвращает занятую емкость полосы
func (l *PriorityLane) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.members)
}

// Capacity возвращает полную емкость полосы
func (l *PriorityLane) Capacity() int {
	return l.capacity
}
