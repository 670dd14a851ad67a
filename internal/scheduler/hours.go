package scheduler

import "time"

// WorkHours рабочее окно магазина в часах локального времени.
// Start == End означает круглосуточную работу
type WorkHours struct {
	Start int // час начала, 0-23
	End   int // час конца, 0-23, не включается
}

// Contains проверяет, попадает ли момент в рабочее окно.
// Окно через полночь (например 22-06) тоже поддерживается
func (w WorkHours) Contains(t time.Time) bool {
	if w.Start == w.End {
		return true
	}
	h := t.Hour()
	if w.Start < w.End {
		return h >= w.Start && h < w.End
	}
	return h >= w.Start || h < w.End
}
