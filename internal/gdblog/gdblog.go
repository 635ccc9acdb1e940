// Package gdblog is a thin logrus wrapper shared by the gdbremote
// packages, so the stub, framer, and transport all log through one
// configurable entry rather than each importing logrus directly.
package gdblog

import "github.com/sirupsen/logrus"

// Logger is the subset of *logrus.Entry the gdbremote packages use.
// Satisfied by *logrus.Entry and *logrus.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Tracef(format string, args ...interface{})
}

// Default is a logrus.Logger consumers can use as-is, or replace via
// WithFields/SetLevel before passing to a Stub.
var Default = logrus.New()

// Session returns a Logger tagged with a session id, for log
// correlation across a single stub connection's lifetime.
func Session(sessionID string) Logger {
	return Default.WithField("session", sessionID)
}
