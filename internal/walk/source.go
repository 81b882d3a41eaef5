package walk

import (
	"errors"
	"io/fs"
	"iter"
	"path/filepath"

	"fswalk/internal/fsutil"
)

// SkipFunc reports whether a raw path must be left out. For a directory the
// whole subtree is left out.
type SkipFunc func(path string) bool

// Source is the recursive enumeration primitive. Entries yields the root
// itself followed by every node beneath it, parents before children, and
// stops at the first error, which is yielded last.
type Source interface {
	// Resolve turns a user supplied root into the form Entries expects.
	Resolve(root string) (string, error)
	Entries(root string, skip SkipFunc) iter.Seq2[RawEntry, error]
}

// OSSource walks the local filesystem with filepath.WalkDir. Symlinks are
// reported, not followed.
type OSSource struct{}

func (OSSource) Resolve(root string) (string, error) {
	return fsutil.ResolveRoot(root)
}

func (OSSource) Entries(root string, skip SkipFunc) iter.Seq2[RawEntry, error] {
	return func(yield func(RawEntry, error) bool) {
		stopped := false
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && skip != nil && skip(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !yield(RawEntry{Path: path, Info: info}, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped && !errors.Is(err, filepath.SkipAll) {
			yield(RawEntry{}, err)
		}
	}
}
