// Package metrics keeps walk counters and renders them in the Prometheus
// text format.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is safe for concurrent use. All methods accept a nil receiver.
type Registry struct {
	walksStarted   atomic.Int64
	walksCompleted atomic.Int64
	walksFailed    atomic.Int64
	entries        atomic.Int64
	walkNanos      atomic.Int64
	watchers       atomic.Int64
	registrations  sync.Map
}

type registrationStats struct {
	matches atomic.Int64
	changes atomic.Int64
}

func (r *Registry) IncWalkStarted() {
	if r == nil {
		return
	}
	r.walksStarted.Add(1)
}

// RecordWalk records a finished traversal. A non-nil err counts as a failure.
func (r *Registry) RecordWalk(entries int, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.entries.Add(int64(entries))
	r.walkNanos.Add(duration.Nanoseconds())
	if err != nil {
		r.walksFailed.Add(1)
		return
	}
	r.walksCompleted.Add(1)
}

func (r *Registry) RecordMatch(registration string) {
	if r == nil {
		return
	}
	r.registrationStats(registration).matches.Add(1)
}

func (r *Registry) RecordChange(registration string) {
	if r == nil {
		return
	}
	r.registrationStats(registration).changes.Add(1)
}

// AddWatchers adjusts the open watcher gauge.
func (r *Registry) AddWatchers(delta int) {
	if r == nil {
		return
	}
	r.watchers.Add(int64(delta))
}

// Matches returns the match count of a registration.
func (r *Registry) Matches(registration string) int64 {
	if r == nil {
		return 0
	}
	return r.registrationStats(registration).matches.Load()
}

// Changes returns the change count of a registration.
func (r *Registry) Changes(registration string) int64 {
	if r == nil {
		return 0
	}
	return r.registrationStats(registration).changes.Load()
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "fswalk_walks_started_total", "Total walks started", r.walksStarted.Load())
	writeCounter(writer, "fswalk_walks_completed_total", "Total walks completed", r.walksCompleted.Load())
	writeCounter(writer, "fswalk_walks_failed_total", "Total walks failed", r.walksFailed.Load())
	writeCounter(writer, "fswalk_entries_total", "Entries offered to registrations", r.entries.Load())
	writeHelp(writer, "fswalk_walk_duration_seconds", "Time spent walking")
	fmt.Fprintln(writer, "# TYPE fswalk_walk_duration_seconds counter")
	fmt.Fprintf(writer, "fswalk_walk_duration_seconds %.6f\n", float64(r.walkNanos.Load())/float64(time.Second))
	writeHelp(writer, "fswalk_watchers", "Open change watchers")
	fmt.Fprintln(writer, "# TYPE fswalk_watchers gauge")
	fmt.Fprintf(writer, "fswalk_watchers %d\n", r.watchers.Load())

	names := r.registrationNames()
	sort.Strings(names)

	writeHelp(writer, "fswalk_registration_matches_total", "Entries matched per registration")
	fmt.Fprintln(writer, "# TYPE fswalk_registration_matches_total counter")
	writeHelp(writer, "fswalk_registration_changes_total", "Change notifications per registration")
	fmt.Fprintln(writer, "# TYPE fswalk_registration_changes_total counter")
	for _, name := range names {
		stats := r.registrationStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "fswalk_registration_matches_total{registration=%s} %d\n", label, stats.matches.Load())
		fmt.Fprintf(writer, "fswalk_registration_changes_total{registration=%s} %d\n", label, stats.changes.Load())
	}

	return nil
}

func (r *Registry) registrationStats(name string) *registrationStats {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	value, _ := r.registrations.LoadOrStore(name, &registrationStats{})
	return value.(*registrationStats)
}

func (r *Registry) registrationNames() []string {
	var names []string
	r.registrations.Range(func(key, value any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	escaped = strings.ReplaceAll(escaped, "\n", "\\n")
	return fmt.Sprintf("\"%s\"", escaped)
}
