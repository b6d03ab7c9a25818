package starter

import "errors"

// Ошибки starter'а.
var (
	// ErrUnauthorized — процесс запущен не production-пользователем.
	ErrUnauthorized = errors.New("not a production user")
)
