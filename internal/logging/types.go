package logging

import (
	"strings"
	"time"
)

// Level orders log severity. Unknown levels are treated as info.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var levelRanks = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// LogEntry is one record as kept in a LogBuffer.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

func normalizeLevel(level Level) Level {
	if _, ok := levelRanks[level]; ok {
		return level
	}
	return LevelInfo
}

func levelRank(level Level) int {
	return levelRanks[normalizeLevel(level)]
}

// ParseLevel accepts the level names plus "warn", ignoring case and
// surrounding space.
func ParseLevel(value string) (Level, bool) {
	level := Level(strings.ToLower(strings.TrimSpace(value)))
	if level == "warn" {
		return LevelWarning, true
	}
	if _, ok := levelRanks[level]; !ok {
		return "", false
	}
	return level, true
}
