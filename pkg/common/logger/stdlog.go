package logger

import (
	"bytes"
	"context"
	"log"
)

// NewStdLogger returns a standard library Logger that wraps the slog Logger.
// This is for direct use by things like http.Server that expect a *log.Logger.
func NewStdLogger(logger *Logger, level Level) *log.Logger {
	return log.New(&logWriter{logger: logger, level: level}, "", 0)
}

type logWriter struct {
	logger *Logger
	level  Level
}

func (w *logWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimSpace(p))

	switch w.level {
	case LevelDebug:
		w.logger.Debugc(context.Background(), 5, msg)
	case LevelWarn:
		w.logger.write(context.Background(), LevelWarn, 5, msg)
	case LevelError:
		w.logger.write(context.Background(), LevelError, 5, msg)
	default:
		w.logger.Infoc(context.Background(), 5, msg)
	}

	return len(p), nil
}
