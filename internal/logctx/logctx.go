// Package logctx provides the structured-logging equivalent of the
// reference implementation's ContextLogger: a logrus entry pre-loaded
// with a "component" field so every log line at a call site carries the
// same prefix the Python original built with an f-string.
package logctx

import (
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a logger entry scoped to component, e.g. "peer",
// "get t>0@alice", "udp batch".
func New(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}

// With derives a further-scoped entry from an existing one, mirroring
// the original's nested ContextLogger(self.log, f"{parent} {child}").
func With(entry *logrus.Entry, component string) *logrus.Entry {
	return entry.WithField("component", component)
}

// Human renders an absolute deadline the way the reference's
// to_human(timestamp) helper did, for debug logging of schedules.
func Human(t time.Time) string {
	secs := time.Until(t)
	if secs >= 0 {
		return "in " + secs.String()
	}
	return (-secs).String() + " ago"
}
