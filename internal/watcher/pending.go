package watcher

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pendingEvent is a change waiting out its quiet period.
type pendingEvent struct {
	event Event
	timer *time.Timer
}

// pendingSet collapses bursts of changes to one path into a single delivery.
// Callers hold the watcher mutex.
type pendingSet struct {
	quiet time.Duration
	byKey map[string]*pendingEvent
}

func newPendingSet(quiet time.Duration) *pendingSet {
	return &pendingSet{quiet: quiet, byKey: make(map[string]*pendingEvent)}
}

// merge queues event and reports true when it folded into one already waiting.
// The delivered event carries every op seen during the quiet period.
func (set *pendingSet) merge(event Event, fire func(string)) bool {
	if set == nil {
		return false
	}
	key := event.Path
	if waiting, ok := set.byKey[key]; ok {
		event.Op |= waiting.event.Op
		waiting.event = event
		waiting.timer.Reset(set.quiet)
		return true
	}
	set.byKey[key] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(set.quiet, func() { fire(key) }),
	}
	return false
}

func (set *pendingSet) take(path string) (Event, bool) {
	if set == nil {
		return Event{}, false
	}
	waiting, ok := set.byKey[path]
	if !ok {
		return Event{}, false
	}
	delete(set.byKey, path)
	return waiting.event, true
}

func (set *pendingSet) cancel() {
	if set == nil {
		return
	}
	for _, waiting := range set.byKey {
		waiting.timer.Stop()
	}
	set.byKey = nil
}

func (watcher *Watcher) queue(raw fsnotify.Event) {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.closed || watcher.pending == nil || !watcher.interestedLocked(raw.Name) {
		return
	}
	event := Event{Path: raw.Name, Op: raw.Op, Timestamp: time.Now().UTC()}
	if watcher.pending.merge(event, watcher.markDue) {
		atomic.AddUint64(&watcher.eventsDropped, 1)
	}
}

// markDue hands a path whose quiet period ended to the delivery goroutine. It
// runs on the timer goroutine.
func (watcher *Watcher) markDue(path string) {
	select {
	case watcher.due <- path:
	case <-watcher.done:
	}
}

// deliver runs outside the watcher mutex so callbacks may Close handles.
func (watcher *Watcher) deliver(path string) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.pending.take(path)
	var callbacks []func(Event)
	if ok {
		callbacks = watcher.listenersLocked(path)
	}
	watcher.mutex.Unlock()

	for _, callback := range callbacks {
		callback(event)
		atomic.AddUint64(&watcher.eventsDelivered, 1)
	}
}
