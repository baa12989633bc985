package logger

import "sync"

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// TestLogger records log calls so tests can assert on them. Loggers derived
// with With share the recorded entries of their parent.
type TestLogger struct {
	mu       *sync.Mutex
	entries  *[]TestLogEntry
	metadata map[string]interface{}
}

var _ Logger = (*TestLogger)(nil)

// WithPrefix returns the same logger; prefixes are not recorded.
func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{mu: c.mu, entries: c.entries, metadata: kv}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

// Metadata returns the metadata attached with With.
func (c *TestLogger) Metadata() map[string]interface{} {
	return c.metadata
}

// Logs returns a copy of the recorded entries.
func (c *TestLogger) Logs() []TestLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TestLogEntry, len(*c.entries))
	copy(out, *c.entries)
	return out
}

// Count returns how many entries were recorded at severity.
func (c *TestLogger) Count(severity string) int {
	n := 0
	for _, e := range c.Logs() {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

func (c *TestLogger) log(level string, msg string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.entries = append(*c.entries, TestLogEntry{level, msg, args})
}

func (c *TestLogger) Trace(msg string, args ...interface{}) { c.log("TRACE", msg, args...) }
func (c *TestLogger) Debug(msg string, args ...interface{}) { c.log("DEBUG", msg, args...) }
func (c *TestLogger) Info(msg string, args ...interface{})  { c.log("INFO", msg, args...) }
func (c *TestLogger) Warn(msg string, args ...interface{})  { c.log("WARNING", msg, args...) }
func (c *TestLogger) Error(msg string, args ...interface{}) { c.log("ERROR", msg, args...) }

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	entries := make([]TestLogEntry, 0)
	return &TestLogger{mu: &sync.Mutex{}, entries: &entries}
}
