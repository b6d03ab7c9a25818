package domain

// DispatchStatus — статус отправки pipeline run во внешний планировщик.
//
// Жизненный цикл маркера dispatch:
//
//	(нет маркера) → CLAIMED → SUBMITTED
//	                        ↘ FAILED
//
// Отсутствие маркера означает, что запись ещё ни разу не отправлялась
// и её может забрать Window Poller.
type DispatchStatus string

const (
	// DispatchStatusClaimed — запись захвачена экземпляром starter'а,
	// команда ещё выполняется.
	DispatchStatusClaimed DispatchStatus = "CLAIMED"

	// DispatchStatusSubmitted — команда pipeline завершилась успешно.
	DispatchStatusSubmitted DispatchStatus = "SUBMITTED"

	// DispatchStatusFailed — команда pipeline вернула ненулевой код.
	// Повторная отправка не выполняется автоматически.
	DispatchStatusFailed DispatchStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s DispatchStatus) IsTerminal() bool {
	switch s {
	case DispatchStatusSubmitted, DispatchStatusFailed:
		return true
	default:
		return false
	}
}
