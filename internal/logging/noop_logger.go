package logging

import "context"

// NoOpLogger discards every call. Used as the default when no logger is
// supplied, matching the teacher's own fallback for an unconfigured client.
type NoOpLogger struct{}

// NewNoOpLogger returns a Logger that discards everything.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (NoOpLogger) Debug(string, ...Field)          {}
func (NoOpLogger) Info(string, ...Field)           {}
func (NoOpLogger) Warn(string, ...Field)           {}
func (NoOpLogger) Error(string, ...Field)          {}
func (n *NoOpLogger) WithTraceID(string) Logger    { return n }
func (n *NoOpLogger) WithFields(...Field) Logger   { return n }
func (n *NoOpLogger) WithContext(context.Context) Logger { return n }
func (*NoOpLogger) SetLevel(LogLevel)              {}
func (*NoOpLogger) Close() error                   { return nil }
