package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globChars = "*?[{"

// ResolveFiles turns file paths and doublestar globs ("exports/**/*.ndjson")
// into absolute paths of regular files. Each pattern must match at least
// one file. The result keeps pattern order and lists every file once.
func ResolveFiles(patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		matched, err := expand(pattern)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", pattern, err)
		}
		for _, f := range matched {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	return files, nil
}

func expand(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, globChars) {
		path, err := filepath.Abs(pattern)
		if err != nil {
			return nil, err
		}
		if !isRegularFile(path) {
			return nil, fmt.Errorf("not a regular file: %s", path)
		}
		return []string{path}, nil
	}

	base, glob, err := splitPattern(pattern)
	if err != nil {
		return nil, err
	}

	// Globbing below base keeps the pattern in slash form on every OS.
	rel, err := doublestar.Glob(os.DirFS(base), glob)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, r := range rel {
		path := filepath.Join(base, filepath.FromSlash(r))
		if isRegularFile(path) {
			files = append(files, path)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match")
	}
	return files, nil
}

// splitPattern separates the literal directory prefix of a glob, made
// absolute, from the slash-separated glob below it.
func splitPattern(pattern string) (base, glob string, err error) {
	pattern = filepath.ToSlash(pattern)
	prefix := pattern[:strings.IndexAny(pattern, globChars)]

	base, glob = ".", pattern
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		base, glob = pattern[:i+1], pattern[i+1:]
	}

	base, err = filepath.Abs(filepath.FromSlash(base))
	return base, glob, err
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
