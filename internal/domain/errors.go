package domain

import "errors"

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPersistence marks conversation log write failures. These are logged
	// and absorbed: they must never alter what was already sent to the client.
	ErrPersistence = errors.New("conversation persistence failed")
)
