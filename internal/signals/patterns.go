// Package signals holds the canonical regular expressions shared by the
// output processor and the verification runner: file-path extraction and
// error-marker extraction from raw or verification command output.
package signals

import (
	"regexp"
	"strings"
)

// FilePath matches a project-relative source file path under one of the
// conventional top-level directories.
var FilePath = regexp.MustCompile(`(?i)(^|\s)((?:src|lib|app|pages|components|hooks|utils|test|tests|spec|config|public|assets|api|scripts|bin|deploy|docker|k8s|infra)/[^\s,)"']+\.[a-zA-Z]{1,5})`)

// ErrorMarkers is evaluated in order against a line; the first match wins.
var ErrorMarkers = []*regexp.Regexp{
	regexp.MustCompile(`Error:\s*(.{10,100})`),
	regexp.MustCompile(`error\[E\d+\]:\s*(.{10,100})`),
	regexp.MustCompile(`TS\d{4,5}:\s*(.{10,80})`),
	regexp.MustCompile(`FAIL\s+(.{10,80})`),
}

// ExtractFilePaths returns every distinct file path match in text, in order
// of first appearance.
func ExtractFilePaths(text string) []string {
	matches := FilePath.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		path := m[2]
		if seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

// ExtractErrorLines returns up to max distinct lines that match one of the
// canonical error markers.
func ExtractErrorLines(text string, max int) []string {
	lines := strings.Split(text, "\n")
	seen := make(map[string]bool)
	var out []string
	for _, line := range lines {
		if len(out) >= max {
			break
		}
		for _, re := range ErrorMarkers {
			if re.MatchString(line) {
				if seen[line] {
					break
				}
				seen[line] = true
				out = append(out, line)
				break
			}
		}
	}
	return out
}
