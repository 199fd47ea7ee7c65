// Package logging wraps the standard library logger with a
// component-name prefix, the idiom the teacher's own packages use
// rather than a structured-logging framework.
package logging

import (
	"log"
	"os"
)

// Logger prefixes every line with "[component] " and gates verbose
// output on Debug.
type Logger struct {
	*log.Logger
	Debug bool
}

// New returns a Logger writing to os.Stderr, prefixed with
// "[component] ".
func New(component string) *Logger {
	return &Logger{
		Logger: log.New(os.Stderr, "["+component+"] ", log.LstdFlags),
	}
}

// Debugf logs only when Debug is set.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Debug {
		l.Printf(format, args...)
	}
}
