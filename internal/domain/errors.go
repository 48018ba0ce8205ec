package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidInput is returned when a task is created without a source
	// URL and without a local file path.
	ErrInvalidInput = errors.New("either a URL or a file path is required")

	// ErrInvalidTransition is returned when a status change would break the
	// pending -> processing -> completed|failed ordering.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTaskStatus is returned when a status string is not recognised.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTaskKind is returned when a task kind is not recognised.
	ErrInvalidTaskKind = errors.New("invalid task kind")

	ErrEmptyNoteURL = errors.New("note URL is empty")
)
