// Package logging provides the leveled, structured logger shared by the
// control-plane packages. Components take a Logger in their Config and
// fall back to Default when none is supplied.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level. The empty string means Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Level(0), fmt.Errorf("unsupported log level %q", s)
	}
}

// Format controls how log entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat converts a string to a Format. The empty string means Text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "text", "":
		return Text, nil
	default:
		return Format(0), fmt.Errorf("unsupported log format %q", s)
	}
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// Err wraps an error as a log field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Component derives a logger tagged with a component name, used by the
// library packages so one process log stays attributable.
func Component(l Logger, name string) Logger {
	if l == nil {
		l = Default()
	}
	return l.With(Field{Key: "component", Value: name})
}

var defaultLogger Logger

// Default returns the process-wide logger. Until SetDefault is called it
// logs Info and above as text to stderr.
func Default() Logger {
	if defaultLogger == nil {
		defaultLogger = New(Info, Text, os.Stderr)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Intended to be called once
// during startup, before goroutines share the default.
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

type baseLogger struct {
	level      Level
	format     Format
	fields     []Field
	underlying *log.Logger
}

// New constructs a Logger with the given level, format, and output writer.
// Pass a lumberjack writer (or any io.Writer) for rotated file output.
func New(level Level, format Format, out io.Writer) Logger {
	return &baseLogger{
		level:      level,
		format:     format,
		underlying: log.New(out, "", log.LstdFlags),
	}
}

func (l *baseLogger) With(fields ...Field) Logger {
	combined := make([]Field, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)
	return &baseLogger{
		level:      l.level,
		format:     l.format,
		fields:     combined,
		underlying: l.underlying,
	}
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields...) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields...) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields...) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.log(Error, msg, fields...) }

func (l *baseLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)
	switch l.format {
	case JSON:
		l.logJSON(level, msg, all)
	default:
		l.logText(level, msg, all)
	}
}

func (l *baseLogger) logText(level Level, msg string, fields []Field) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level.String(), msg)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	l.underlying.Print(b.String())
}

func (l *baseLogger) logJSON(level Level, msg string, fields []Field) {
	payload := map[string]any{
		"time":  time.Now().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		payload[f.Key] = f.Value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		l.underlying.Printf("[ERROR] marshal log payload: %v", err)
		return
	}
	l.underlying.Print(string(data))
}
