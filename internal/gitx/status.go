package gitx

import "strings"

// ParseStatus extracts the changed file paths from `git status
// --porcelain` output. Each line is a fixed-width two-character status
// code, a space, then the path; rename entries read "old -> new" and
// yield the destination path. Trailing whitespace and a missing final
// newline are tolerated.
func ParseStatus(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = unquotePath(path)
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

// unquotePath strips the quoting git applies to paths with special
// characters. Escape sequences beyond \" and \\ are left as-is; the
// list is diagnostic, not fed back into git.
func unquotePath(path string) string {
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		path = path[1 : len(path)-1]
		path = strings.ReplaceAll(path, `\"`, `"`)
		path = strings.ReplaceAll(path, `\\`, `\`)
	}
	return path
}
