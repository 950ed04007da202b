// Package logger configures the structured application logger.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"taximeter/internal/config"
)

// Logger wraps logrus so services depend on one concrete logging type.
type Logger struct {
	*logrus.Logger
}

// New builds a logger from cfg. Unknown levels fall back to info, and a log
// file that cannot be opened falls back to stdout.
func New(cfg *config.LoggerConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.WithError(err).Warn("cannot open log file, logging to stdout")
		} else {
			out = io.MultiWriter(os.Stdout, f)
		}
	}
	l.SetOutput(out)

	return &Logger{Logger: l}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

// WithTrip returns an entry tagged with the trip ID.
func (l *Logger) WithTrip(tripID string) *logrus.Entry {
	return l.WithField("trip_id", tripID)
}
