package logger

// multiLogger sends every call to each of its loggers.
type multiLogger []Logger

var _ Logger = multiLogger(nil)

// NewMultiLogger returns a Logger writing to all of loggers, for example a
// console logger and an OpenTelemetry logger. Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) Logger {
	m := make(multiLogger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multiLogger) each(fn func(Logger) Logger) multiLogger {
	out := make(multiLogger, len(m))
	for i, l := range m {
		out[i] = fn(l)
	}
	return out
}

func (m multiLogger) With(metadata map[string]interface{}) Logger {
	return m.each(func(l Logger) Logger { return l.With(metadata) })
}

func (m multiLogger) WithPrefix(prefix string) Logger {
	return m.each(func(l Logger) Logger { return l.WithPrefix(prefix) })
}

func (m multiLogger) IsLevelEnabled(level LogLevel) bool {
	for _, l := range m {
		if l.IsLevelEnabled(level) {
			return true
		}
	}
	return false
}

func (m multiLogger) Trace(msg string, args ...interface{}) {
	for _, l := range m {
		l.Trace(msg, args...)
	}
}

func (m multiLogger) Debug(msg string, args ...interface{}) {
	for _, l := range m {
		l.Debug(msg, args...)
	}
}

func (m multiLogger) Info(msg string, args ...interface{}) {
	for _, l := range m {
		l.Info(msg, args...)
	}
}

func (m multiLogger) Warn(msg string, args ...interface{}) {
	for _, l := range m {
		l.Warn(msg, args...)
	}
}

func (m multiLogger) Error(msg string, args ...interface{}) {
	for _, l := range m {
		l.Error(msg, args...)
	}
}
