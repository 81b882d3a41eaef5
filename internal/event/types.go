package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	TypeMatched = "matched"
	TypeChanged = "changed"
)

// PathEvent reports a walk match or a change to a matched path. Rule names
// the registration that produced it.
type PathEvent struct {
	EventType  string
	Rule       string
	Path       string
	OccurredAt time.Time
}

func NewMatchedEvent(rule, path string) PathEvent {
	return PathEvent{
		EventType:  TypeMatched,
		Rule:       rule,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func NewChangedEvent(rule, path string) PathEvent {
	return PathEvent{
		EventType:  TypeChanged,
		Rule:       rule,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func (e PathEvent) Type() string {
	return e.EventType
}

func (e PathEvent) Timestamp() time.Time {
	return e.OccurredAt
}
