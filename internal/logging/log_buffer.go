package logging

import (
	"sync"

	"fswalk/internal/buffer"
)

// LogBuffer keeps the most recent entries.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{entries: buffer.NewRing[LogEntry](size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

// List returns buffered entries oldest first.
func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}
