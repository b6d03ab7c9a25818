package submit

import "errors"

// Ошибки подготовки и отправки run-директории.
var (
	// ErrPrecondition — нарушено предусловие записи: целевой файл уже
	// существует или конфиг уже содержит ELM. Прерывает весь цикл.
	ErrPrecondition = errors.New("precondition violated")

	// ErrUnknownSite — для площадки нет шаблона run-скрипта.
	ErrUnknownSite = errors.New("unknown site")

	// ErrNoInitCommand — для площадки не задана команда инициализации.
	ErrNoInitCommand = errors.New("no init command for site")
)
