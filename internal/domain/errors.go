package domain

import "errors"

// Ошибки доменной модели.
var (
	// ErrInvalidTimestamp — строка не является timestamp'ом формата GenerateTimestamp.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidOutputDir — путь не соответствует шаблону выходной директории.
	ErrInvalidOutputDir = errors.New("path does not match output directory template")
)
