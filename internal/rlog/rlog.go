// Package rlog wraps logrus the way the teacher's logging package wraps
// the standard library logger, except with leveled output and the
// partition field each partition worker attaches to its log lines.
package rlog

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Logger is the run-wide logging handle. It is safe for concurrent use
// by independent partition workers (logrus.Logger already is).
type Logger struct {
	base *logrus.Logger
}

// Verbosity maps the CLI's -s/-v flags to a logrus level. Level 0 is the
// default (warnings/errors only reach the user); level 1 adds per-artifact
// progress (Info); level 2+ adds expanded command lines and cache hits
// (Debug), capped there regardless of how many more -v are given.
type Verbosity int

const (
	Silent  Verbosity = -1
	Normal  Verbosity = 0
	Verbose Verbosity = 1
	Debug   Verbosity = 2
)

// New builds a Logger at the given verbosity, writing to stderr the way
// the teacher's Logger does (so stdout stays free for tool output and
// list-only mode's entry dump).
func New(v Verbosity) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		ForceColors:   isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp: true,
	})

	switch {
	case v <= Silent:
		base.SetLevel(logrus.ErrorLevel)
	case v == Normal:
		base.SetLevel(logrus.WarnLevel)
	case v == Verbose:
		base.SetLevel(logrus.InfoLevel)
	default:
		base.SetLevel(logrus.DebugLevel)
	}

	return &Logger{base: base}
}

// ForPartition returns an entry pre-populated with a partition field, for
// use by a single partition worker so every log line it emits is
// attributable when multiple partitions run concurrently.
func (l *Logger) ForPartition(slot int) *logrus.Entry {
	return l.base.WithField("partition", slot)
}

func (l *Logger) Warn(format string, args ...interface{}) { l.base.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.base.Errorf(format, args...) }
func (l *Logger) Info(format string, args ...interface{}) { l.base.Infof(format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.base.Debugf(format, args...) }

// Base exposes the underlying logrus.Logger for packages that want to
// attach their own structured fields.
func (l *Logger) Base() *logrus.Logger { return l.base }
