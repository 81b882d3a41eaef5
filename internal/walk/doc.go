// Package walk performs a single declarative traversal of a directory tree.
//
// Callers register interest in entries before traversal with OnMatch, OnFile
// and OnDirectory. Ready walks the tree exactly once and, for every entry,
// tries every registration in registration order: predicates and Found
// callbacks run sequentially on the goroutine calling Ready, so no two
// callbacks ever overlap. Registrations that carry a Changed callback record
// the paths they matched; once the walk is complete one change watcher is
// created per such registration over exactly those paths, and Changed is
// invoked with the root-relative path whenever one of them is modified.
//
// Registrations made after Ready has started never fire for the walk that is
// already running. StopWatching releases every watcher.
package walk
