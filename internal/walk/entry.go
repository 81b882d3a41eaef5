package walk

import "io/fs"

// Kind classifies an Entry.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	// KindOther covers symlinks, devices, sockets and pipes. Only OnMatch
	// registrations see them.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

func kindOf(info fs.FileInfo) Kind {
	switch {
	case info == nil:
		return KindOther
	case info.IsDir():
		return KindDirectory
	case info.Mode().IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

// Entry is one filesystem node discovered during traversal.
type Entry struct {
	// Path is relative to the walk root, forward-slash separated, without a
	// leading separator. It is never empty.
	Path string
	Kind Kind
	Info fs.FileInfo
}

func (e Entry) IsFile() bool {
	return e.Kind == KindFile
}

func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// RawEntry is what a Source yields: an unfiltered path as the source names it
// together with its lstat metadata.
type RawEntry struct {
	Path string
	Info fs.FileInfo
}
