package trace

import "github.com/sirupsen/logrus"

// LogrusSink adapts a *logrus.Logger to the Sink interface, the default
// trace destination when a caller wants tracing without writing their own
// Sink (spec.md §1 leaves the sink implementation to the host
// application; this is the one wired in out of the box).
type LogrusSink struct {
	Logger *logrus.Logger
}

// UseLogrus installs logger as the process-wide trace sink. Passing nil
// uses logrus.StandardLogger().
func UseLogrus(logger *logrus.Logger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	Use(LogrusSink{Logger: logger})
}

func (s LogrusSink) Emit(level Level, event string, fields Fields) {
	entry := s.Logger.WithField("event", event)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	switch level {
	case Warning:
		entry.Warn(event)
	case Error:
		entry.Error(event)
	default:
		entry.Info(event)
	}
}
