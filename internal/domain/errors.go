package domain

import "errors"

// Ошибки доменной модели.
var (
	// ErrInvalidTransition — недопустимый переход состояния узла.
	ErrInvalidTransition = errors.New("invalid node state transition")
)
