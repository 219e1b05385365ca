package logging

import (
	"context"

	"agentstudio/internal/observability"
)

// WithTaskID returns a logger that prefixes every line with the task id.
func WithTaskID(logger Logger, taskID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if taskID == "" {
		return logger
	}
	return &taskIDLogger{logger: logger, taskID: taskID}
}

// FromContext returns a logger tagged with the task id found in ctx, if any.
func FromContext(ctx context.Context, logger Logger) Logger {
	return WithTaskID(logger, observability.TaskIDFromContext(ctx))
}

type taskIDLogger struct {
	logger Logger
	taskID string
}

func (l *taskIDLogger) Debug(format string, args ...any) {
	l.logger.Debug(prefixTaskID(l.taskID, format), args...)
}

func (l *taskIDLogger) Info(format string, args ...any) {
	l.logger.Info(prefixTaskID(l.taskID, format), args...)
}

func (l *taskIDLogger) Warn(format string, args ...any) {
	l.logger.Warn(prefixTaskID(l.taskID, format), args...)
}

func (l *taskIDLogger) Error(format string, args ...any) {
	l.logger.Error(prefixTaskID(l.taskID, format), args...)
}

func prefixTaskID(taskID, format string) string {
	return "task=" + taskID + " " + format
}
