package dispatcher

import "errors"

// Ошибки dispatcher'а.
var (
	// ErrNoLauncher — Dispatcher создан без Launcher'а.
	ErrNoLauncher = errors.New("dispatcher has no launcher")
)
