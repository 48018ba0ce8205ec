package engine

import "errors"

// Common errors returned by engines.
var (
	// ErrTransient marks failures that may succeed on retry: throttling,
	// timeouts, dropped connections, overloaded upstreams.
	ErrTransient = errors.New("transient engine failure")

	// ErrTerminal marks failures that will not improve on retry: rejected
	// credentials, unsupported input, malformed responses.
	ErrTerminal = errors.New("terminal engine failure")

	// ErrUnavailable is returned when an engine lacks credentials or its
	// binary is not installed.
	ErrUnavailable = errors.New("engine unavailable")

	// ErrEmptyOutput is returned when an engine succeeded but produced no text.
	ErrEmptyOutput = errors.New("engine returned no text")
)
