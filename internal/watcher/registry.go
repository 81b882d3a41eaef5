package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

type listener struct {
	id uint64
	fn func(Event)
}

// watchedPath is one path added to the backend and everyone listening on it.
type watchedPath struct {
	isDir     bool
	listeners []listener
}

type handle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.watcher.unwatch(h.path, h.id)
	})
	return err
}

// Watch registers callback for changes to path. The path is cleaned and events
// carry the cleaned form. The backend watch is added on the first
// registration for a path and removed with the last.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	entry, existing := watcher.paths[path]
	if !existing {
		if len(watcher.paths) >= watcher.maxWatches {
			watcher.mutex.Unlock()
			return nil, ErrMaxWatchesExceeded
		}
		entry = &watchedPath{isDir: info.IsDir()}
		watcher.paths[path] = entry
	}
	watcher.nextID++
	id := watcher.nextID
	entry.listeners = append(entry.listeners, listener{id: id, fn: callback})
	backend := watcher.backend
	active := len(watcher.paths)
	watcher.mutex.Unlock()

	if !existing {
		if err := backend.Add(path); err != nil {
			watcher.mutex.Lock()
			watcher.detachLocked(path, id)
			watcher.mutex.Unlock()
			watcher.logWarn("watch add failed", map[string]string{"path": path, "error": err.Error()})
			return nil, err
		}
		watcher.logDebug("watch added", path, active)
	}
	return &handle{watcher: watcher, path: path, id: id}, nil
}

func (watcher *Watcher) unwatch(path string, id uint64) error {
	watcher.mutex.Lock()
	last := watcher.detachLocked(path, id) && !watcher.closed
	backend := watcher.backend
	active := len(watcher.paths)
	watcher.mutex.Unlock()
	if !last {
		return nil
	}
	if err := backend.Remove(path); err != nil {
		watcher.logWarn("watch remove failed", map[string]string{"path": path, "error": err.Error()})
		return err
	}
	watcher.logDebug("watch removed", path, active)
	return nil
}

// detachLocked drops listener id and reports whether path has no listeners
// left.
func (watcher *Watcher) detachLocked(path string, id uint64) bool {
	entry := watcher.paths[path]
	if entry == nil {
		return false
	}
	kept := entry.listeners[:0]
	for _, l := range entry.listeners {
		if l.id != id {
			kept = append(kept, l)
		}
	}
	entry.listeners = kept
	if len(kept) > 0 {
		return false
	}
	delete(watcher.paths, path)
	return true
}

func (watcher *Watcher) parentDirLocked(path string) *watchedPath {
	if !watcher.watchDir {
		return nil
	}
	parent := filepath.Dir(path)
	if parent == path {
		return nil
	}
	if entry := watcher.paths[parent]; entry != nil && entry.isDir {
		return entry
	}
	return nil
}

func (watcher *Watcher) interestedLocked(path string) bool {
	return watcher.paths[path] != nil || watcher.parentDirLocked(path) != nil
}

// listenersLocked returns the callbacks for path. A watched parent directory
// only hears about children that have no listeners of their own, so a change
// is never reported twice.
func (watcher *Watcher) listenersLocked(path string) []func(Event) {
	source := watcher.paths[path]
	if source == nil {
		source = watcher.parentDirLocked(path)
	}
	if source == nil {
		return nil
	}
	out := make([]func(Event), 0, len(source.listeners))
	for _, l := range source.listeners {
		out = append(out, l.fn)
	}
	return out
}
