package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Multi creates a logger that dispatches every entry to all provided loggers'
// cores. Used by "coach serve" to write console output to stdout and JSON to
// a log file simultaneously. Each core keeps its own level.
func Multi(loggers ...*zap.Logger) *zap.Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, l := range loggers {
		if l == nil {
			continue
		}
		cores = append(cores, l.Core())
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
