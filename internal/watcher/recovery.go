package watcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// recovery tracks reopen attempts after the fsnotify backend fails, for
// example on a kernel queue overflow.
type recovery struct {
	mu       sync.Mutex
	timer    *time.Timer
	attempts int
}

func backoff(attempt int) time.Duration {
	return restartBaseDelay << attempt
}

func (r *recovery) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *recovery) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (watcher *Watcher) fail(err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.logWarn("watcher error", map[string]string{"error": err.Error()})
	watcher.retry(err)
}

// retry arms a reopen timer unless one is already pending. Once the attempts
// are spent the error goes to the configured ErrorHandler instead.
func (watcher *Watcher) retry(err error) {
	if watcher == nil || watcher.isClosed() {
		return
	}
	r := &watcher.recovery
	r.mu.Lock()
	switch {
	case r.timer != nil:
		r.mu.Unlock()
	case r.attempts >= maxRestartAttempts:
		r.mu.Unlock()
		watcher.report(err)
	default:
		delay := backoff(r.attempts)
		r.attempts++
		r.timer = time.AfterFunc(delay, watcher.reopenAndReset)
		r.mu.Unlock()
	}
}

func (watcher *Watcher) reopenAndReset() {
	err := watcher.reopen()

	r := &watcher.recovery
	r.mu.Lock()
	r.timer = nil
	if err == nil {
		r.attempts = 0
	}
	r.mu.Unlock()

	if err != nil {
		watcher.logWarn("watcher restart failed", map[string]string{"error": err.Error()})
		watcher.retry(err)
	}
}

func (watcher *Watcher) report(err error) {
	if err == nil {
		return
	}
	watcher.mutex.Lock()
	handler := watcher.errorHandler
	watcher.mutex.Unlock()
	if handler != nil {
		handler(err)
	}
}

// reopen swaps in a fresh fsnotify instance watching the same paths.
func (watcher *Watcher) reopen() error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	paths := make([]string, 0, len(watcher.paths))
	for path := range watcher.paths {
		paths = append(paths, path)
	}
	watcher.mutex.Unlock()

	fresh, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if addErr := fresh.Add(path); addErr != nil {
			watcher.logWarn("watcher re-add failed", map[string]string{
				"path":  path,
				"error": addErr.Error(),
			})
		}
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return fresh.Close()
	}
	stale := watcher.backend
	watcher.backend = fresh
	watcher.mutex.Unlock()

	watcher.pump(fresh)
	if stale != nil {
		_ = stale.Close()
	}
	return nil
}
