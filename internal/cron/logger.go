package cron

import (
	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// zapLogger adapts zap to the scheduler's logger. The scheduler's info
// messages fire on every tick, so they go to debug.
type zapLogger struct {
	s *zap.SugaredLogger
}

var _ rcron.Logger = zapLogger{}

func newZapLogger(l *zap.Logger) zapLogger {
	return zapLogger{s: l.Sugar()}
}

func (z zapLogger) Info(msg string, keysAndValues ...interface{}) {
	z.s.Debugw(msg, keysAndValues...)
}

func (z zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
