// Package allowlist decides whether a local path may be read for an upload
// or written for a download. A Set is built once from configuration and is
// immutable afterwards.
package allowlist

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrNoAllowedDirs is returned when a check is made against an empty Set.
	// Transfers fail closed when nothing has been configured.
	ErrNoAllowedDirs = errors.New("no allowed directories configured")

	// ErrOutsideAllowedDirs is returned when a path is not under any prefix.
	ErrOutsideAllowedDirs = errors.New("path is outside the allowed directories")
)

// Set is an immutable list of absolute directory prefixes.
type Set struct {
	prefixes []string
}

// Parse builds a Set from a comma-separated list. Entries are trimmed and
// cleaned; empty entries are dropped.
func Parse(list string) Set {
	return New(strings.Split(list, ","))
}

// New builds a Set from individual directory prefixes.
func New(dirs []string) Set {
	var prefixes []string
	for _, d := range dirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		prefixes = append(prefixes, filepath.Clean(d))
	}
	return Set{prefixes: prefixes}
}

// Empty reports whether no prefixes are configured.
func (s Set) Empty() bool {
	return len(s.prefixes) == 0
}

// Prefixes returns a copy of the configured prefixes.
func (s Set) Prefixes() []string {
	out := make([]string, len(s.prefixes))
	copy(out, s.prefixes)
	return out
}

// Check returns the cleaned path when it equals one of the prefixes or lies
// beneath one of them. Sibling directories sharing a name prefix
// ("/data" vs "/data2") do not match.
func (s Set) Check(path string) (string, error) {
	if s.Empty() {
		return "", ErrNoAllowedDirs
	}
	cleaned := filepath.Clean(path)
	for _, p := range s.prefixes {
		if contains(p, cleaned) {
			return cleaned, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideAllowedDirs, cleaned)
}

func contains(prefix, path string) bool {
	if path == prefix {
		return true
	}
	if strings.HasSuffix(prefix, string(filepath.Separator)) {
		// Root directory.
		return strings.HasPrefix(path, prefix)
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}
