package runner

import (
	"errors"
	"fmt"
)

// ErrCommandFailed — команда завершилась с ненулевым кодом.
var ErrCommandFailed = errors.New("command failed")

// ExitError — ошибка выполнения внешней команды.
type ExitError struct {
	Command  string // команда целиком, для логов
	ExitCode int    // код возврата (-1, если процесс не запустился)
	Output   []byte // захваченный вывод
	Err      error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
}

// Unwrap возвращает базовую ошибку.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать с ErrCommandFailed через errors.Is.
func (e *ExitError) Is(target error) bool {
	return target == ErrCommandFailed
}
