// Package watcher provides the filesystem change-notification primitive used
// by the walk package.
//
// A Watcher wraps one fsnotify instance. Callbacks are registered per path and
// receive debounced events: bursts of operations on the same path within the
// debounce window are coalesced into one Event whose Op is the union of the
// observed operations. Delivery is best-effort; callers should treat an Event
// as "this path changed" rather than as an exact operation log.
package watcher
