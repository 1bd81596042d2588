// Package xlog is this module's leveled, context-free logging shim. It
// mirrors the shape of rclone's fs.Debugf/fs.Logf/fs.Infof helpers
// (object-tagged, printf-style, one call per log line) but is built over
// github.com/sirupsen/logrus rather than a bespoke global logger, since
// logrus is the structured logger the wider example corpus reaches for.
package xlog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package-level logger, e.g. to inject a
// caller-configured *logrus.Logger with custom output/formatter.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

// Subject is anything identifying what a log line is about (an
// ObjectRef, a batch id, ...); only its String() is used.
type Subject interface {
	String() string
}

func withSubject(subject Subject) logrus.FieldLogger {
	if subject == nil {
		return logger
	}
	return logger.WithField("subject", subject.String())
}

// Debugf logs at debug level.
func Debugf(subject Subject, format string, args ...any) {
	withSubject(subject).Debugf(format, args...)
}

// Infof logs at info level.
func Infof(subject Subject, format string, args ...any) {
	withSubject(subject).Infof(format, args...)
}

// Logf is an alias for Infof, matching rclone's naming (fs.Logf is its
// general-purpose "always show this" level).
func Logf(subject Subject, format string, args ...any) {
	Infof(subject, format, args...)
}

// Errorf logs at error level.
func Errorf(subject Subject, format string, args ...any) {
	withSubject(subject).Errorf(format, args...)
}

// stringerSubject adapts a plain string to Subject.
type stringerSubject string

func (s stringerSubject) String() string { return string(s) }

// Str wraps a plain string as a Subject for convenience at call sites
// that have no richer identity to log.
func Str(s string) Subject { return stringerSubject(s) }

var _ fmt.Stringer = stringerSubject("")
