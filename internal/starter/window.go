package starter

import (
	"time"

	"github.com/shaiso/rpd-pipelines/internal/repo"
)

// DefaultWindowDays — окно выборки по умолчанию.
const DefaultWindowDays = 14

// Window — интервал (From, To) по времени создания записи.
// Обе границы исключаются.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow возвращает окно в days дней, заканчивающееся в now.
func NewWindow(now time.Time, days int) Window {
	return Window{
		From: now.Add(-time.Duration(days) * 24 * time.Hour),
		To:   now,
	}
}

// Epochs возвращает границы окна в epoch миллисекундах.
func (w Window) Epochs() (from, to int64) {
	return w.From.UnixMilli(), w.To.UnixMilli()
}

// Contains проверяет, попадает ли ctime (epoch мс) строго внутрь окна.
func (w Window) Contains(ctime int64) bool {
	from, to := w.Epochs()
	return ctime > from && ctime < to
}

// Filter возвращает фильтр выборки для площадки.
func (w Window) Filter(site string) repo.EligibleFilter {
	from, to := w.Epochs()
	return repo.EligibleFilter{Site: site, From: from, To: to}
}
