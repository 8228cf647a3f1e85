package pf

import (
	"regexp"
	"strings"
)

var nameDashRuns = regexp.MustCompile(`-{2,}`)

// ArchiveName derives the archive name of a directory from its absolute
// path. The result contains only [a-z0-9-], has no leading dash and no
// repeated dashes. For example "/data/foo_bar/Baz 1" becomes
// "data-foo-bar-baz1".
//
// The name doubles as the prefix selecting all snapshots of the directory,
// which is why it must be deterministic.
func ArchiveName(path string) string {
	components := splitKeepEmpty(path)
	for i, c := range components {
		components[i] = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
				return r
			}
			return -1
		}, c)
	}

	name := strings.Join(components, "-")
	name = nameDashRuns.ReplaceAllString(name, "-")
	name = strings.TrimPrefix(name, "-")
	return strings.ToLower(name)
}

// splitKeepEmpty splits on '/' and '_' like strings.Split does for a single
// separator, keeping empty components.
func splitKeepEmpty(s string) []string {
	var parts []string
	start := 0
	for i, r := range s {
		if r == '/' || r == '_' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
