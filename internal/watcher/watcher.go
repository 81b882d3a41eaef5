package watcher

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"fswalk/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce    = 100 * time.Millisecond
	defaultMaxWatches  = 8192
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
	dueBufferSize      = 64
)

var (
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
	ErrClosed             = errors.New("watcher is closed")
)

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

func NewWithOptions(options Options) (*Watcher, error) {
	backend, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.Debounce <= 0 {
		options.Debounce = defaultDebounce
	}
	if options.MaxWatches <= 0 {
		options.MaxWatches = defaultMaxWatches
	}

	watcher := &Watcher{
		backend:      backend,
		paths:        make(map[string]*watchedPath),
		pending:      newPendingSet(options.Debounce),
		due:          make(chan string, dueBufferSize),
		done:         make(chan struct{}),
		logger:       options.Logger.With(map[string]string{"fswalk.category": "watcher"}),
		watchDir:     options.WatchDir,
		maxWatches:   options.MaxWatches,
		errorHandler: options.ErrorHandler,
	}
	watcher.pump(backend)
	go watcher.dispatch()
	return watcher, nil
}

// dispatch is the only goroutine that runs callbacks.
func (watcher *Watcher) dispatch() {
	for {
		select {
		case path := <-watcher.due:
			watcher.deliver(path)
		case <-watcher.done:
			return
		}
	}
}

// pump feeds one backend's events and errors into the watcher until the
// backend is closed or the watcher stops.
func (watcher *Watcher) pump(backend *fsnotify.Watcher) {
	go func() {
		for {
			select {
			case event, ok := <-backend.Events:
				if !ok {
					return
				}
				watcher.queue(event)
			case err, ok := <-backend.Errors:
				if !ok {
					return
				}
				watcher.fail(err)
			case <-watcher.done:
				return
			}
		}
	}()
}

// Close stops delivery and releases the backend. It is safe to call more than
// once and from inside a callback.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	watcher.pending.cancel()
	backend := watcher.backend
	watcher.mutex.Unlock()

	watcher.recovery.stop()
	close(watcher.done)
	return backend.Close()
}

func (watcher *Watcher) isClosed() bool {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.closed
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := len(watcher.paths)
	watcher.mutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		EventsDropped:   atomic.LoadUint64(&watcher.eventsDropped),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: watcher.recovery.attemptCount(),
	}
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	watcher.logger.Warn(message, fields)
}

func (watcher *Watcher) logDebug(message, path string, active int) {
	watcher.logger.Debug(message, map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(active),
	})
}
