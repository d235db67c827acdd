// Package logger provides structured logging for oplog.
//
// It builds log/slog loggers and adds:
//
//   - logger.go: JSON or text handler construction with a dynamic level
//   - context.go: carrying a logger through context.Context
//   - redact.go: redaction of secret-bearing attributes
//
// Components accept a *slog.Logger; this package only decides how it is
// built.
package logger
