package fsutil

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// ResolveRoot turns a directory path, a file path or a file:// URI into an
// absolute, cleaned directory. A file resolves to its containing directory
// and an empty value resolves to the working directory.
func ResolveRoot(value string) (string, error) {
	pathValue := strings.TrimSpace(value)
	if pathValue == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		pathValue = cwd
	}
	if strings.HasPrefix(pathValue, fileScheme) {
		converted, err := fromFileURL(pathValue)
		if err != nil {
			return "", err
		}
		pathValue = converted
	}

	abs, err := filepath.Abs(pathValue)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", value, err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", value, err)
	}
	if info.IsDir() {
		return abs, nil
	}
	return filepath.Dir(abs), nil
}

func fromFileURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse file url %q: %w", raw, err)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("file url %q: non-local host %q", raw, parsed.Host)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("file url %q: empty path", raw)
	}
	return filepath.FromSlash(parsed.Path), nil
}

// RelativePath returns target relative to root in forward-slash form with no
// leading separator. A target equal to root yields "".
func RelativePath(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside root %q", target, root)
	}
	return filepath.ToSlash(rel), nil
}
