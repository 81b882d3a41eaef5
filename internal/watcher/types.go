package watcher

import (
	"sync"
	"time"

	"fswalk/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event is one debounced change. Op is the union of the operations seen on
// Path during the quiet period.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases one Watch registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events on a path.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger   *logging.Logger
	Debounce time.Duration
	// WatchDir delivers events for direct children of watched directories.
	WatchDir     bool
	MaxWatches   int
	ErrorHandler func(error)
}

// Metrics is a point-in-time snapshot of watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher multiplexes path callbacks over one fsnotify instance. Callbacks
// run one at a time on the watcher's delivery goroutine.
type Watcher struct {
	mutex        sync.Mutex
	backend      *fsnotify.Watcher
	paths        map[string]*watchedPath
	pending      *pendingSet
	due          chan string
	closed       bool
	done         chan struct{}
	nextID       uint64
	logger       *logging.Logger
	watchDir     bool
	maxWatches   int
	errorHandler func(error)

	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64

	recovery recovery
}
