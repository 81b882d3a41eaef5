package walk

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

var errStopWalk = errors.New("walk stopped")

// BillySource walks a go-billy filesystem, such as an in-memory memfs tree
// or a chrooted osfs. Paths are billy paths, so change watching only makes
// sense when they are also valid OS paths.
type BillySource struct {
	FS billy.Filesystem
}

func (s BillySource) Resolve(root string) (string, error) {
	if s.FS == nil {
		return "", configErr("source", errors.New("billy filesystem is nil"))
	}
	if root == "" {
		root = string(filepath.Separator)
	}
	root = filepath.Clean(root)
	info, err := s.FS.Lstat(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	if info.IsDir() {
		return root, nil
	}
	return filepath.Dir(root), nil
}

func (s BillySource) Entries(root string, skip SkipFunc) iter.Seq2[RawEntry, error] {
	return func(yield func(RawEntry, error) bool) {
		err := util.Walk(s.FS, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path != root && skip != nil && skip(path) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !yield(RawEntry{Path: path, Info: info}, nil) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(RawEntry{}, err)
		}
	}
}
