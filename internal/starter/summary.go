package starter

import (
	"github.com/google/uuid"
)

// Outcome — результат обработки одной записи.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeDryRun     Outcome = "dry_run"
)

// RecordResult — результат обработки записи.
type RecordResult struct {
	RecordID uuid.UUID `json:"record_id"`
	Outcome  Outcome   `json:"outcome"`
	OutDir   string    `json:"outdir,omitempty"`

	// Reason — причина для failed/skipped.
	Reason string `json:"reason,omitempty"`
}

// Summary — итог одного цикла.
type Summary struct {
	Site    string
	Window  Window
	Results []RecordResult
}

// Eligible возвращает число выбранных записей.
func (s *Summary) Eligible() int {
	return len(s.Results)
}

// Count возвращает число записей с данным результатом.
func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// IDs возвращает идентификаторы записей с данным результатом.
func (s *Summary) IDs(o Outcome) []uuid.UUID {
	var ids []uuid.UUID
	for _, r := range s.Results {
		if r.Outcome == o {
			ids = append(ids, r.RecordID)
		}
	}
	return ids
}

// Failed возвращает число записей, dispatch которых завершился ошибкой.
func (s *Summary) Failed() int {
	return s.Count(OutcomeFailed)
}
