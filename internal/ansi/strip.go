// Package ansi strips terminal escape sequences from PTY output so signal
// detection and error extraction operate on plain text.
package ansi

import "regexp"

// escapeSequence matches CSI/OSC/simple ESC sequences commonly emitted by
// interactive CLIs (cursor movement, color, title-setting).
var escapeSequence = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[()][0-9A-Za-z]|[=>78M])`)

// Strip removes ANSI escape sequences from s.
func Strip(s string) string {
	return escapeSequence.ReplaceAllString(s, "")
}
