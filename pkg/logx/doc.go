// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a Logger and derive scoped loggers via With().
// Sinks (console, file) are fixed at construction time.
package logx
