package verify

import (
	"regexp"
	"strings"

	"github.com/homer-run/homer/internal/signals"
)

var (
	tsErrorCode   = regexp.MustCompile(`TS(\d{4,5})`)
	testFileName  = regexp.MustCompile(`([\w./-]+\.(?:test|spec)\.[jt]sx?)`)
	testFailName  = regexp.MustCompile(`(?:✗|✕|FAIL|×|failing)\s*(.{1,60})`)
	lintMarker    = regexp.MustCompile(`(error|warning)\s+([\w-]+)`)
)

// NormalizeErrorKey derives the memory-store error key from one check's
// captured output, following the TS-code / test-file / lint / fallback
// priority order.
func NormalizeErrorKey(checkName, output string) string {
	if m := tsErrorCode.FindStringSubmatch(output); m != nil {
		key := "typecheck:TS" + m[1]
		if file := firstFilePath(output); file != "" {
			key += ":" + file
		}
		return key
	}

	if m := testFileName.FindStringSubmatch(output); m != nil {
		key := "test:" + m[1]
		if nm := testFailName.FindStringSubmatch(output); nm != nil {
			norm := normalizeTestName(nm[1])
			if norm != "" {
				key += ":" + norm
			}
		}
		return key
	}

	if m := lintMarker.FindStringSubmatch(output); m != nil {
		key := "lint:" + m[2]
		if file := firstFilePath(output); file != "" {
			key += ":" + file
		}
		return key
	}

	if file := firstFilePath(output); file != "" {
		return checkName + ":" + file
	}
	return checkName + ":unknown"
}

func firstFilePath(output string) string {
	paths := signals.ExtractFilePaths(output)
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// normalizeTestName clamps the captured failure description to 10-40 chars
// and replaces spaces with underscores, as the spec's test-key rule requires.
func normalizeTestName(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > 40 {
		s = s[:40]
	}
	if len(s) < 10 {
		return ""
	}
	return strings.ReplaceAll(s, " ", "_")
}
