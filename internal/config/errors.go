package config

import "errors"

// Ошибки конфигурации.
var (
	// ErrInvalidConfig — конфигурация площадки не прошла валидацию.
	ErrInvalidConfig = errors.New("invalid site config")
)
