package walk

import (
	"errors"
	"fmt"
	"strconv"

	"fswalk/internal/fsutil"
	"fswalk/internal/watcher"

	"github.com/fsnotify/fsnotify"
)

// errWatchStopped ends watch setup once StopWatching has been called.
var errWatchStopped = errors.New("watching stopped")

// establishWatchers creates one watcher per watch-enabled registration over
// the paths it matched. It runs only after the walk has finished. On failure
// every watcher created so far is closed. If StopWatching runs first, setup
// ends quietly and nothing stays open.
func (w *Walker) establishWatchers(stack []*registration) error {
	if !w.watch {
		return nil
	}
	for _, reg := range stack {
		if reg.changed == nil || len(reg.watchedPaths) == 0 {
			continue
		}
		err := w.watchRegistration(reg)
		if errors.Is(err, errWatchStopped) {
			w.logger.Debug("watch setup abandoned", map[string]string{
				"registration": reg.label,
			})
			return nil
		}
		if err != nil {
			w.StopWatching()
			return fmt.Errorf("watch %s: %w", reg.label, err)
		}
	}
	return nil
}

func (w *Walker) watchRegistration(reg *registration) error {
	instance, err := watcher.NewWithOptions(watcher.Options{
		Logger:     w.logger,
		Debounce:   w.debounce,
		WatchDir:   true,
		MaxWatches: w.maxWatches,
		ErrorHandler: func(err error) {
			w.logger.Error("watcher failed", map[string]string{
				"registration": reg.label,
				"error":        err.Error(),
			})
		},
	})
	if err != nil {
		return err
	}

	w.watchMutex.Lock()
	if w.watchStopped {
		w.watchMutex.Unlock()
		_ = instance.Close()
		return errWatchStopped
	}
	w.watchers = append(w.watchers, instance)
	w.watchMutex.Unlock()
	w.metrics.AddWatchers(1)

	root := w.root
	changed := reg.changed
	label := reg.label
	callback := func(event watcher.Event) {
		if !event.Op.Has(fsnotify.Write) {
			return
		}
		rel, err := fsutil.RelativePath(root, event.Path)
		if err != nil || rel == "" {
			return
		}
		w.metrics.RecordChange(label)
		changed(rel)
	}
	for _, path := range reg.watchedPaths {
		if _, err := instance.Watch(path, callback); err != nil {
			if errors.Is(err, watcher.ErrClosed) && w.stopped() {
				return errWatchStopped
			}
			return err
		}
	}
	w.logger.Info("watching matched paths", map[string]string{
		"registration": reg.label,
		"paths":        strconv.Itoa(len(reg.watchedPaths)),
	})
	return nil
}

// StopWatching closes every active watcher. Close failures are logged and do
// not stop the remaining watchers from closing. It is safe to call more than
// once, including from inside a Changed callback. Once called, no new watcher
// is opened, even by a Ready call still setting up.
func (w *Walker) StopWatching() {
	w.watchMutex.Lock()
	w.watchStopped = true
	watchers := w.watchers
	w.watchers = nil
	w.watchMutex.Unlock()

	w.metrics.AddWatchers(-len(watchers))
	for _, instance := range watchers {
		if err := instance.Close(); err != nil {
			w.logger.Warn("watcher close failed", map[string]string{
				"error": err.Error(),
			})
		}
	}
	if len(watchers) > 0 {
		w.logger.Debug("watchers stopped", map[string]string{
			"count": strconv.Itoa(len(watchers)),
		})
	}
}

func (w *Walker) stopped() bool {
	w.watchMutex.Lock()
	defer w.watchMutex.Unlock()
	return w.watchStopped
}

// ActiveWatchers reports how many watchers are currently open.
func (w *Walker) ActiveWatchers() int {
	w.watchMutex.Lock()
	defer w.watchMutex.Unlock()
	return len(w.watchers)
}

// WatchSet is the set of absolute paths one watch-enabled registration
// matched during the walk.
type WatchSet struct {
	Registration string
	Paths        []string
}

// WatchSets reports the recorded paths of every watch-enabled registration
// with at least one match, in registration order. It is empty until the walk
// has finished.
func (w *Walker) WatchSets() []WatchSet {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.state == StateNotStarted || w.state == StateWalking {
		return nil
	}
	sets := make([]WatchSet, 0)
	for _, reg := range w.stack {
		if len(reg.watchedPaths) == 0 {
			continue
		}
		sets = append(sets, WatchSet{
			Registration: reg.label,
			Paths:        append([]string(nil), reg.watchedPaths...),
		})
	}
	return sets
}
