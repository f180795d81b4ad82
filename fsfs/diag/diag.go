// Package diag is the injected diagnostic sink described by the
// storage engine's design notes: rather than invoking a function
// pointer on a shared filesystem object, callers pass a narrow Sink
// down from repository open.
package diag

import (
	"github.com/sirupsen/logrus"
)

// Kind classifies a diagnostic. Cache and rep-cache problems are
// reported as Warning; they never abort the operation in progress.
type Kind int

const (
	Warning Kind = iota
	Info
)

func (k Kind) String() string {
	switch k {
	case Warning:
		return "warning"
	case Info:
		return "info"
	default:
		return "unknown"
	}
}

// Sink receives structured diagnostics from deep inside the engine
// (cache reconstruction failures, rep-cache insert failures after a
// durable commit, hot-copy progress). Implementations must not block
// the caller for long; they are invoked on the writer's own goroutine.
type Sink interface {
	Report(kind Kind, msg string, fields map[string]interface{})
}

// LogrusSink adapts a *logrus.Logger to Sink. *fsfs.Filesystem does
// not install it on its own (with no Sink it discards diagnostics);
// cmd/fsfsutil sets one explicitly.
type LogrusSink struct {
	Logger *logrus.Logger
}

// NewLogrusSink returns a Sink backed by a fresh logrus.Logger at
// Info level, the CLI's default on startup.
func NewLogrusSink() *LogrusSink {
	l := logrus.New()
	l.Level = logrus.InfoLevel
	return &LogrusSink{Logger: l}
}

func (s *LogrusSink) Report(kind Kind, msg string, fields map[string]interface{}) {
	entry := s.Logger.WithFields(fields)
	switch kind {
	case Warning:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}

// Discard silently drops every diagnostic. Useful in tests that don't
// want log noise but still need a non-nil Sink.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Report(Kind, string, map[string]interface{}) {}
