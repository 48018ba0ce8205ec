// Package logger provides structured logging functionality for the application.
//
// It builds a log/slog JSON logger on stdout, optionally fanned out to a log
// file, and carries request-scoped loggers through context.Context.
package logger
