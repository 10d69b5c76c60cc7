package repo

import "errors"

// Общие ошибки репозиториев. Репозитории переводят ошибки драйвера
// (pgx.ErrNoRows, конфликты уникальности) в эти sentinel-ошибки,
// чтобы вызывающий код не зависел от pgx.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии записи.
	ErrInvalidState = errors.New("invalid state")
)
