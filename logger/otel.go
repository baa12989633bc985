package logger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/log"
)

// otelLogger emits log records through an OpenTelemetry log.Logger.
type otelLogger struct {
	prefixes   []string
	metadata   map[string]log.Value
	logLevel   LogLevel
	otelLogger log.Logger
}

var _ Logger = (*otelLogger)(nil)

var otelSeverity = map[LogLevel]log.Severity{
	LevelTrace: log.SeverityTrace,
	LevelDebug: log.SeverityDebug,
	LevelInfo:  log.SeverityInfo,
	LevelWarn:  log.SeverityWarn,
	LevelError: log.SeverityError,
}

func (o *otelLogger) clone() *otelLogger {
	kv := make(map[string]log.Value, len(o.metadata))
	for k, v := range o.metadata {
		kv[k] = v
	}
	return &otelLogger{
		prefixes:   slices.Clone(o.prefixes),
		metadata:   kv,
		logLevel:   o.logLevel,
		otelLogger: o.otelLogger,
	}
}

func (o *otelLogger) WithPrefix(prefix string) Logger {
	l := o.clone()
	if !slices.Contains(l.prefixes, prefix) {
		l.prefixes = append(l.prefixes, prefix)
	}
	return l
}

func toLogValue(unknown interface{}) log.Value {
	switch v := unknown.(type) {
	case string:
		return log.StringValue(v)
	case int:
		return log.IntValue(v)
	case int64:
		return log.Int64Value(v)
	case bool:
		return log.BoolValue(v)
	case float64:
		return log.Float64Value(v)
	case []byte:
		return log.BytesValue(v)
	case []interface{}:
		values := make([]log.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return log.SliceValue(values...)
	case map[string]interface{}:
		values := make([]log.KeyValue, 0, len(v))
		for k, item := range v {
			values = append(values, log.KeyValue{Key: k, Value: toLogValue(item)})
		}
		return log.MapValue(values...)
	default:
		return log.StringValue(fmt.Sprintf("%v", v))
	}
}

func (o *otelLogger) With(metadata map[string]interface{}) Logger {
	l := o.clone()
	for k, v := range metadata {
		l.metadata[k] = toLogValue(v)
	}
	return l
}

func (o *otelLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= o.logLevel
}

func (o *otelLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !o.IsLevelEnabled(level) {
		return
	}
	text := msg
	if len(args) > 0 {
		text = fmt.Sprintf(msg, args...)
	}
	if len(o.prefixes) > 0 {
		text = strings.Join(o.prefixes, " ") + " " + text
	}

	now := time.Now()
	severity := otelSeverity[level]
	record := log.Record{}
	record.SetBody(log.StringValue(text))
	record.SetSeverity(severity)
	record.SetSeverityText(severity.String())
	record.SetObservedTimestamp(now)
	record.SetTimestamp(now)
	for k, v := range o.metadata {
		record.AddAttributes(log.KeyValue{Key: k, Value: v})
	}
	o.otelLogger.Emit(context.Background(), record)
}

func (o *otelLogger) Trace(msg string, args ...interface{}) { o.log(LevelTrace, msg, args...) }
func (o *otelLogger) Debug(msg string, args ...interface{}) { o.log(LevelDebug, msg, args...) }
func (o *otelLogger) Info(msg string, args ...interface{})  { o.log(LevelInfo, msg, args...) }
func (o *otelLogger) Warn(msg string, args ...interface{})  { o.log(LevelWarn, msg, args...) }
func (o *otelLogger) Error(msg string, args ...interface{}) { o.log(LevelError, msg, args...) }

// NewOtelLogger returns a Logger emitting records at or above level to l.
func NewOtelLogger(l log.Logger, level LogLevel) Logger {
	return &otelLogger{otelLogger: l, logLevel: level, metadata: map[string]log.Value{}}
}
