package logging

import (
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultBufferSize = 1000

// Logger writes leveled logfmt lines and keeps recent entries in a LogBuffer.
// Loggers derived with With share the buffer and the output.
type Logger struct {
	buffer   *LogBuffer
	sink     *sink
	minLevel Level
	base     map[string]string
}

// sink serializes whole lines onto one writer.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *sink) writeLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.out, line)
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stderr)
}

// NewLoggerWithOutput returns a logger writing to output. A nil buffer gets a
// default-sized one; a nil output keeps entries in the buffer only.
func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	logger := &Logger{buffer: buffer, minLevel: normalizeLevel(minLevel)}
	if output != nil {
		logger.sink = &sink{out: output}
	}
	return logger
}

// Discard returns a logger that only records into a small buffer.
func Discard() *Logger {
	return NewLoggerWithOutput(NewLogBuffer(64), LevelInfo, nil)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	derived := *l
	derived.base = cloneFields(l.base, fields)
	return &derived
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.base, fields),
	}
	l.buffer.Add(entry)
	if l.sink != nil {
		l.sink.writeLine(formatEntry(entry))
	}
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

// formatEntry renders one logfmt line with context keys sorted.
func formatEntry(entry LogEntry) string {
	var line strings.Builder
	line.WriteString("time=")
	line.WriteString(entry.Timestamp.Format(time.RFC3339Nano))
	line.WriteString(" level=")
	line.WriteString(string(entry.Level))
	line.WriteString(" msg=")
	line.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line.WriteByte(' ')
		line.WriteString(key)
		line.WriteByte('=')
		line.WriteString(strconv.Quote(entry.Context[key]))
	}
	line.WriteByte('\n')
	return line.String()
}
