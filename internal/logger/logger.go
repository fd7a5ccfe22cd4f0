// Package logger wraps a *zap.Logger behind package-level helpers so the
// rest of the module can log without threading a logger instance through
// every constructor.
package logger

import "go.uber.org/zap"

var log *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	log = l
}

// SetLogger replaces the package logger, e.g. with a development logger in
// tests or a caller-configured one in cmd/flowctl.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	log = l
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}
