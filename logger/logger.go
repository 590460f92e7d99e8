// Package logger defines the structured logging surface used across the
// orchestrator. Subsystems receive a Logger scoped with their component field
// so every entry can be traced back to the session, transfer or sweep that
// produced it.
package logger

type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	// With returns a logger that attaches fields to every subsequent entry.
	With(fields map[string]any) Logger
}

// NoopLogger discards everything. It is the default when no logger is injected.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

func (n NoopLogger) With(map[string]any) Logger { return n }
