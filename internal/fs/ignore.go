package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root file listing additional exclude patterns.
const IgnoreFileName = ".permafrostignore"

// excludePattern is a parsed exclude pattern with its matching strategy.
type excludePattern struct {
	glob     string
	anchored bool // match the path relative to the root instead of the entry name
}

// IgnoreMatcher decides which directories below a root are excluded from
// tracking. Patterns without '/' match any directory name at any level.
// Patterns with '/' match the directory's path relative to the root.
// An excluded directory is pruned together with everything below it.
type IgnoreMatcher struct {
	patterns []excludePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped, as is a trailing '/'.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []excludePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSuffix(raw, "/")
		patterns = append(patterns, excludePattern{
			glob:     raw,
			anchored: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// With returns a matcher holding the patterns of m followed by rawPatterns.
func (m *IgnoreMatcher) With(rawPatterns []string) *IgnoreMatcher {
	extra := NewIgnoreMatcher(rawPatterns)
	combined := make([]excludePattern, 0, len(m.patterns)+len(extra.patterns))
	combined = append(combined, m.patterns...)
	combined = append(combined, extra.patterns...)
	return &IgnoreMatcher{patterns: combined}
}

// Match reports whether the directory at relPath (relative to the root) is
// excluded.
func (m *IgnoreMatcher) Match(relPath string) bool {
	if relPath == "" || len(m.patterns) == 0 {
		return false
	}

	slashed := filepath.ToSlash(relPath)
	name := filepath.Base(relPath)

	for _, p := range m.patterns {
		subject := name
		if p.anchored {
			subject = slashed
		}
		matched, err := filepath.Match(p.glob, subject)
		if err != nil {
			// Malformed pattern, never matches.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
