package scheduler

import (
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

type gocronLogger struct {
	logger *slog.Logger
}

// NewLogger adapts an slog logger to gocron.Logger.
func NewLogger(logger *slog.Logger) gocron.Logger {
	return &gocronLogger{logger: logger.With("component", "scheduler")}
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *gocronLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *gocronLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *gocronLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
