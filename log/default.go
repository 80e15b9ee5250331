// File: log/default.go
// Package-level convenience entry points over a swappable default logger.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package log

import "sync/atomic"

// loggerBox keeps the stored concrete type stable for atomic.Value.
type loggerBox struct{ l Logger }

var defaultLogger atomic.Value // loggerBox

func init() {
	defaultLogger.Store(loggerBox{l: NewStdLogger()})
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) {
	if l == nil {
		l = Nop()
	}
	defaultLogger.Store(loggerBox{l: l})
}

// Default returns the process-wide default logger.
func Default() Logger {
	return defaultLogger.Load().(loggerBox).l
}

// Debug logs through the default logger.
func Debug(format string, args ...any) { Default().Debug(format, args...) }

// Info logs through the default logger.
func Info(format string, args ...any) { Default().Info(format, args...) }

// Warn logs through the default logger.
func Warn(format string, args ...any) { Default().Warn(format, args...) }

// Error logs through the default logger.
func Error(format string, args ...any) { Default().Error(format, args...) }

// Fatal logs through the default logger. It does not abort the process.
func Fatal(format string, args ...any) { Default().Fatal(format, args...) }
