package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions are the container file suffixes collected from a directory.
var DefaultExtensions = []string{".jsonl", ".ndjson", ".jsonl.gz"}

// CollectOptions controls container discovery.
type CollectOptions struct {
	Extensions []string
	SkipHidden bool
}

// Collect walks dir recursively and returns container paths in lexical
// order. Files whose name starts with "." are skipped when SkipHidden is
// set; so are hidden directories.
func Collect(dir string, opts CollectOptions) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input %q is not a directory", dir)
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := strings.HasPrefix(d.Name(), ".") && path != dir
		if d.IsDir() {
			if hidden && opts.SkipHidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden && opts.SkipHidden {
			return nil
		}
		if HasExtension(path, exts) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %q: %w", dir, err)
	}
	return paths, nil
}

// HasExtension reports whether path ends with one of exts, ignoring case.
func HasExtension(path string, exts []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
