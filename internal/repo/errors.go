package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyClaimed — у записи уже есть маркер dispatch:
	// её захватил другой экземпляр starter'а.
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrClaimMismatch — маркер в БД принадлежит другому захвату.
	ErrClaimMismatch = errors.New("claim mismatch")
)
