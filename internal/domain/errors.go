package domain

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrActorRequired     = errors.New("actor identity is required")
	ErrInvalidTransition = errors.New("invalid batch status transition")
	ErrAlreadyRunning    = errors.New("batch is already running")
)
