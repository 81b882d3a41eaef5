package walk

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"fswalk/internal/ignore"
	"fswalk/internal/logging"
	"fswalk/internal/metrics"
	"fswalk/internal/watcher"
)

const (
	defaultDebounce   = 100 * time.Millisecond
	defaultMaxWatches = 8192
)

// State is the lifecycle position of a Walker.
type State int32

const (
	StateNotStarted State = iota
	StateWalking
	StateWatching
	StateNotifying
	StateDone
	// StateFailed is terminal: a failed walk is never retried.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateWalking:
		return "walking"
	case StateWatching:
		return "watching"
	case StateNotifying:
		return "notifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReadyFunc runs once after the walk and watcher setup have completed.
type ReadyFunc func(ctx context.Context) error

// Options configures a Walker.
type Options struct {
	// Root is a directory, a file (its directory is used) or a file:// URI.
	// Empty means the working directory.
	Root string
	// IgnorePatterns are added to the built-in node_modules exclusion.
	IgnorePatterns []ignore.Pattern
	// Watch enables Changed callbacks. When false they are accepted but
	// never invoked.
	Watch bool

	Source     Source
	Logger     *logging.Logger
	Metrics    *metrics.Registry
	Debounce   time.Duration
	MaxWatches int
	// Rules are registered in order by New, ahead of any other registration.
	Rules   []Rule
	OnReady ReadyFunc
}

// Walker owns the registration stack and drives the single walk.
type Walker struct {
	root       string
	source     Source
	filter     *ignore.Filter
	watch      bool
	debounce   time.Duration
	maxWatches int
	logger     *logging.Logger
	metrics    *metrics.Registry

	mutex          sync.Mutex
	state          State
	stack          []*registration
	readyCallbacks []ReadyFunc
	err            error
	done           chan struct{}

	watchMutex   sync.Mutex
	watchers     []*watcher.Watcher
	watchStopped bool
}

// New resolves the root and registers Options.Rules. Configuration problems
// are reported here, before anything is walked.
func New(options Options) (*Walker, error) {
	source := options.Source
	if source == nil {
		source = OSSource{}
	}
	root, err := source.Resolve(options.Root)
	if err != nil {
		if IsConfigError(err) {
			return nil, err
		}
		return nil, configErr("root", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	w := &Walker{
		root:       root,
		source:     source,
		filter:     ignore.New(options.IgnorePatterns...),
		watch:      options.Watch,
		debounce:   debounce,
		maxWatches: maxWatches,
		logger:     logger.With(map[string]string{"fswalk.category": "walk"}),
		metrics:    options.Metrics,
		done:       make(chan struct{}),
	}
	for _, rule := range options.Rules {
		if err := w.Register(rule); err != nil {
			return nil, err
		}
	}
	if options.OnReady != nil {
		w.OnReady(options.OnReady)
	}
	return w, nil
}

// Root returns the resolved root directory.
func (w *Walker) Root() string {
	return w.root
}

// OnReady queues fn to run after the first Ready completes its walk and
// watcher setup. Callbacks run in the order they were queued; one queued
// after readiness never runs.
func (w *Walker) OnReady(fn ReadyFunc) {
	if fn == nil {
		return
	}
	w.mutex.Lock()
	w.readyCallbacks = append(w.readyCallbacks, fn)
	w.mutex.Unlock()
}

// Ready performs the walk, establishes watchers and runs the ready callbacks.
// Only the first call does any work and returns its error; every later call,
// including one made while the first is still running, returns nil at once.
// Use Done and Err to wait for and inspect the first call.
func (w *Walker) Ready(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w.mutex.Lock()
	if w.state != StateNotStarted {
		w.mutex.Unlock()
		return nil
	}
	w.state = StateWalking
	stack := append([]*registration(nil), w.stack...)
	w.mutex.Unlock()

	err := w.start(ctx, stack)

	w.mutex.Lock()
	if err != nil {
		w.state = StateFailed
		w.err = err
	} else {
		w.state = StateDone
	}
	w.mutex.Unlock()
	close(w.done)
	return err
}

func (w *Walker) start(ctx context.Context, stack []*registration) error {
	started := time.Now()
	w.logger.Debug("walk started", map[string]string{
		"root":          w.root,
		"registrations": strconv.Itoa(len(stack)),
	})
	w.metrics.IncWalkStarted()
	stats, err := w.traverse(ctx, stack)
	w.metrics.RecordWalk(stats.entries, time.Since(started), err)
	if err != nil {
		w.logger.Warn("walk failed", map[string]string{
			"root":    w.root,
			"entries": strconv.Itoa(stats.entries),
			"error":   err.Error(),
		})
		return err
	}
	w.logger.Info("walk finished", map[string]string{
		"root":        w.root,
		"entries":     strconv.Itoa(stats.entries),
		"matches":     strconv.Itoa(stats.matches),
		"duration_ms": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
	})

	w.setState(StateWatching)
	if err := w.establishWatchers(stack); err != nil {
		return err
	}

	w.setState(StateNotifying)
	w.mutex.Lock()
	callbacks := append([]ReadyFunc(nil), w.readyCallbacks...)
	w.mutex.Unlock()
	for index, callback := range callbacks {
		if err := callback(ctx); err != nil {
			return fmt.Errorf("ready callback %d: %w", index, err)
		}
	}
	return nil
}

func (w *Walker) setState(state State) {
	w.mutex.Lock()
	w.state = state
	w.mutex.Unlock()
}

// State returns the current lifecycle state.
func (w *Walker) State() State {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.state
}

// Done is closed when the first Ready call returns.
func (w *Walker) Done() <-chan struct{} {
	return w.done
}

// Err returns the error of the first Ready call, if it failed.
func (w *Walker) Err() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.err
}
