package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

func colorEnabled(f *os.File) bool {
	if isWindows || os.Getenv("TERM") == "dumb" || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

const (
	Reset      = "\033[0m"
	Red        = "\033[31m"
	Green      = "\033[32m"
	Magenta    = "\033[35m"
	BlueBold   = "\033[34;1m"
	RedBold    = "\033[31;1m"
	YellowBold = "\033[33;1m"
	WhiteBold  = "\033[37;1m"
	CyanBold   = "\033[36;1m"
	Gray       = "\033[1;90m"
	Purple     = "\u001b[38;5;200m"
)

type levelStyle struct {
	name         string
	levelColor   string
	messageColor string
}

var levelStyles = map[LogLevel]levelStyle{
	LevelTrace: {"TRACE", CyanBold, Gray},
	LevelDebug: {"DEBUG", BlueBold, Green},
	LevelInfo:  {"INFO", YellowBold, WhiteBold},
	LevelWarn:  {"WARN", Magenta, Magenta},
	LevelError: {"ERROR", RedBold, Red},
}

type consoleLogger struct {
	mu       *sync.Mutex
	out      io.Writer
	color    bool
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	sink     Sink
	sinkLvl  LogLevel
}

var _ Logger = (*consoleLogger)(nil)

func (c *consoleLogger) clone() *consoleLogger {
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	clone := *c
	clone.prefixes = prefixes
	clone.metadata = metadata
	return &clone
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	l := c.clone()
	if !slices.Contains(l.prefixes, prefix) {
		l.prefixes = append(l.prefixes, prefix)
	}
	return l
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	l := c.clone()
	for k, v := range metadata {
		l.metadata[k] = v
	}
	return l
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel || (c.sink != nil && level >= c.sinkLvl)
}

func (c *consoleLogger) paint(code, s string) string {
	if !c.color {
		return s
	}
	return code + s + Reset
}

func (c *consoleLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	style := levelStyles[level]
	text := msg
	if len(args) > 0 {
		text = fmt.Sprintf(msg, args...)
	}
	var prefix, suffix string
	if len(c.prefixes) > 0 {
		prefix = c.paint(Purple, strings.Join(c.prefixes, " ")) + " "
	}
	if len(c.metadata) > 0 {
		buf, _ := json.Marshal(c.metadata)
		suffix = " " + c.paint(Gray, string(buf))
	}
	levelText := c.paint(style.levelColor, fmt.Sprintf("[%-5s]", style.name))
	out := levelText + " " + prefix + c.paint(style.messageColor, text) + suffix

	c.mu.Lock()
	defer c.mu.Unlock()
	if level >= c.logLevel {
		fmt.Fprintln(c.out, out)
	}
	if c.sink != nil && level >= c.sinkLvl {
		ts := time.Now().Format(time.RFC3339Nano)
		c.sink.Write([]byte(ts + " " + ansiColorStripper.ReplaceAllString(out, "") + "\n"))
	}
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) { c.log(LevelTrace, msg, args...) }
func (c *consoleLogger) Debug(msg string, args ...interface{}) { c.log(LevelDebug, msg, args...) }
func (c *consoleLogger) Info(msg string, args ...interface{})  { c.log(LevelInfo, msg, args...) }
func (c *consoleLogger) Warn(msg string, args ...interface{})  { c.log(LevelWarn, msg, args...) }
func (c *consoleLogger) Error(msg string, args ...interface{}) { c.log(LevelError, msg, args...) }

// NewConsoleLogger returns a new Logger instance which will log to stderr.
// The level defaults to the one named by CLIENTELE_LOG_LEVEL.
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &consoleLogger{
		mu:       &sync.Mutex{},
		out:      os.Stderr,
		color:    colorEnabled(os.Stderr),
		logLevel: level,
		sinkLvl:  LevelNone,
	}
}

// NewConsoleLoggerWithSink returns a console logger that additionally copies
// every line at or above sinkLevel, without colours, to sink.
func NewConsoleLoggerWithSink(level LogLevel, sink Sink, sinkLevel LogLevel) Logger {
	l := NewConsoleLogger(level).(*consoleLogger)
	l.sink = sink
	l.sinkLvl = sinkLevel
	return l
}
