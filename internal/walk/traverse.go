package walk

import (
	"context"
	"fmt"

	"fswalk/internal/fsutil"
)

type walkStats struct {
	entries int
	matches int
}

// traverse performs the single walk. Each entry is offered to every
// registration in stack order; each predicate and Found callback completes
// before the next one starts. The first error aborts the walk.
func (w *Walker) traverse(ctx context.Context, stack []*registration) (walkStats, error) {
	stats := walkStats{}
	for raw, err := range w.source.Entries(w.root, w.filter.Ignored) {
		if err != nil {
			return stats, fmt.Errorf("walk %s: %w", w.root, err)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		entry, ok, err := w.entryFor(raw)
		if err != nil {
			return stats, err
		}
		if !ok {
			continue
		}
		stats.entries++
		for _, reg := range stack {
			matched, err := reg.matches(ctx, entry)
			if err != nil {
				return stats, fmt.Errorf("match %q: %w", entry.Path, err)
			}
			if !matched {
				continue
			}
			stats.matches++
			w.metrics.RecordMatch(reg.label)
			if reg.found != nil {
				if err := reg.found(ctx, entry); err != nil {
					return stats, fmt.Errorf("found %q: %w", entry.Path, err)
				}
			}
			if reg.changed != nil && w.watch {
				reg.watchedPaths = append(reg.watchedPaths, raw.Path)
			}
		}
	}
	return stats, nil
}

// entryFor relativizes a raw entry. The root itself and ignored paths are
// dropped; sources prune ignored subtrees, the check here covers sources that
// do not.
func (w *Walker) entryFor(raw RawEntry) (Entry, bool, error) {
	rel, err := fsutil.RelativePath(w.root, raw.Path)
	if err != nil {
		return Entry{}, false, fmt.Errorf("walk %s: %w", w.root, err)
	}
	if rel == "" || w.filter.Ignored(raw.Path) {
		return Entry{}, false, nil
	}
	return Entry{Path: rel, Kind: kindOf(raw.Info), Info: raw.Info}, true, nil
}
