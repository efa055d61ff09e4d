package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildTaskMemory assembles the context block injected into an agent's
// prompt for taskKey: recent run history, known errors on the touched
// files, file-dependency hints, and applicable procedural rules. The rule
// ids it injects are recorded for one-time retrieval via
// GetLastInjectedRuleIds.
func (s *Store) BuildTaskMemory(taskKey string, filePaths []string) string {
	if s == nil || s.isClosed() {
		return ""
	}

	var sections []string
	if section := s.previousAttemptsSection(taskKey); section != "" {
		sections = append(sections, section)
	}
	if section := s.knownErrorsSection(taskKey, filePaths); section != "" {
		sections = append(sections, section)
	}
	if section := s.fileDependenciesSection(filePaths); section != "" {
		sections = append(sections, section)
	}

	ruleIDs, rulesSection := s.patternsSection(filePaths)
	if rulesSection != "" {
		sections = append(sections, rulesSection)
	}
	s.setLastInjectedRuleIds(ruleIDs)

	return strings.Join(sections, "\n\n")
}

func (s *Store) previousAttemptsSection(taskKey string) string {
	rows, err := s.db.Query(
		`SELECT outcome, attempts, notes, created_at FROM task_runs
		 WHERE task_key = ? ORDER BY created_at DESC LIMIT 5`,
		taskKey,
	)
	if err != nil {
		return ""
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var outcome, notes string
		var attempts int
		var createdAt string
		if err := rows.Scan(&outcome, &attempts, nullStringScan(&notes), &createdAt); err != nil {
			continue
		}
		line := fmt.Sprintf("- [%s] outcome=%s attempts=%d", createdAt, outcome, attempts)
		if notes != "" {
			line += ": " + notes
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "PREVIOUS ATTEMPTS ON THIS TASK\n" + strings.Join(lines, "\n")
}

func (s *Store) knownErrorsSection(taskKey string, filePaths []string) string {
	type scored struct {
		errorKey string
		summary  string
		score    float64
	}
	seen := make(map[string]bool)
	var out []scored

	collect := func(query string, args ...interface{}) {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var errorKey, summary string
			var resolved int
			var confidence float64
			if err := rows.Scan(&errorKey, nullStringScan(&summary), &resolved, &confidence); err != nil {
				continue
			}
			key := errorKey + "|" + summary
			if seen[key] {
				continue
			}
			seen[key] = true
			score := 0.5*float64(resolved) + 0.5*confidence
			out = append(out, scored{errorKey, summary, score})
		}
	}

	for _, f := range filePaths {
		collect(
			`SELECT error_key, fix_summary, resolved, confidence FROM solutions
			 WHERE error_key LIKE ? ORDER BY (0.5*resolved + 0.5*confidence) DESC LIMIT 3`,
			"%"+f+"%",
		)
	}
	collect(
		`SELECT error_key, fix_summary, resolved, confidence FROM solutions
		 WHERE task_key = ? ORDER BY (0.5*resolved + 0.5*confidence) DESC LIMIT 3`,
		taskKey,
	)

	if len(out) == 0 {
		return ""
	}
	var lines []string
	for _, o := range out {
		line := "- " + o.errorKey
		if o.summary != "" {
			line += ": " + o.summary
		}
		lines = append(lines, line)
	}
	return "KNOWN ERRORS ON THESE FILES\n" + strings.Join(lines, "\n")
}

func (s *Store) fileDependenciesSection(filePaths []string) string {
	var lines []string
	for _, f := range filePaths {
		var cochangesJSON string
		err := s.db.QueryRow(`SELECT cochanges FROM file_knowledge WHERE path = ?`, f).Scan(&cochangesJSON)
		if err != nil {
			continue
		}
		var cochanges []string
		if err := json.Unmarshal([]byte(cochangesJSON), &cochanges); err != nil || len(cochanges) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s tends to change with: %s", f, strings.Join(cochanges, ", ")))
	}
	if len(lines) == 0 {
		return ""
	}
	return "FILE DEPENDENCIES\n" + strings.Join(lines, "\n")
}

func (s *Store) patternsSection(filePaths []string) ([]int64, string) {
	type rule struct {
		id         int64
		text       string
		confidence float64
	}
	seen := make(map[string]bool)
	var rules []rule

	collect := func(query string, args ...interface{}) {
		if len(rules) >= 8 {
			return
		}
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			var text string
			var confidence float64
			if err := rows.Scan(&id, &text, &confidence); err != nil {
				continue
			}
			if seen[text] {
				continue
			}
			seen[text] = true
			rules = append(rules, rule{id, text, confidence})
		}
	}

	for _, f := range filePaths {
		collect(`SELECT id, rule, confidence FROM repo_rules WHERE scope = ? ORDER BY confidence DESC LIMIT 8`, "file:"+f)
	}
	collect(`SELECT id, rule, confidence FROM repo_rules WHERE scope LIKE 'check:%' ORDER BY confidence DESC LIMIT 8`)
	collect(`SELECT id, rule, confidence FROM repo_rules WHERE scope = 'repo' ORDER BY confidence DESC LIMIT 8`)

	if len(rules) > 8 {
		rules = rules[:8]
	}
	if len(rules) == 0 {
		return nil, ""
	}

	var ids []int64
	var lines []string
	for _, r := range rules {
		ids = append(ids, r.id)
		lines = append(lines, fmt.Sprintf("- %s", r.text))
	}
	return ids, "PATTERNS FROM MEMORY\n" + strings.Join(lines, "\n")
}

// BuildErrorContext returns a focused block for one error key: an exact
// match with its resolution summary if present, else a broadened search on
// the error key's first two segments.
func (s *Store) BuildErrorContext(errorKey, filePath string) string {
	if s == nil || s.isClosed() {
		return ""
	}

	var resolved int
	var summary string
	err := s.db.QueryRow(
		`SELECT resolved, fix_summary FROM solutions WHERE error_key = ? ORDER BY (0.5*resolved + 0.5*confidence) DESC LIMIT 1`,
		errorKey,
	).Scan(&resolved, nullStringScan(&summary))
	if err == nil && resolved == 1 && summary != "" {
		return fmt.Sprintf("%s was previously resolved: %s", errorKey, summary)
	}

	prefix := errorKeyPrefix(errorKey)
	rows, err := s.db.Query(
		`SELECT error_key, fix_summary FROM solutions WHERE resolved = 1 AND error_key LIKE ? LIMIT 2`,
		prefix+"%",
	)
	if err != nil {
		return ""
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var key, fix string
		if err := rows.Scan(&key, nullStringScan(&fix)); err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", key, fix))
	}
	if len(lines) == 0 {
		return ""
	}
	return "RELATED RESOLUTIONS\n" + strings.Join(lines, "\n")
}

func errorKeyPrefix(errorKey string) string {
	parts := strings.SplitN(errorKey, ":", 3)
	if len(parts) >= 2 {
		return parts[0] + ":" + parts[1]
	}
	return errorKey
}

// BuildRerouteContext blends the same sections as BuildTaskMemory but
// framed as "what previous agents tried", for use when handing a task to a
// replacement agent.
func (s *Store) BuildRerouteContext(taskKey string, filePaths []string) string {
	if s == nil || s.isClosed() {
		return ""
	}
	body := s.BuildTaskMemory(taskKey, filePaths)
	if body == "" {
		return ""
	}
	return "WHAT PREVIOUS AGENTS TRIED\n" + body
}

// BuildRuleHints returns a targeted retry hint block for the given files and
// error keys, deduplicated across scopes.
func (s *Store) BuildRuleHints(filePaths []string, errorKeys []string) string {
	if s == nil || s.isClosed() {
		return ""
	}

	seen := make(map[string]bool)
	var lines []string

	collect := func(query string, args ...interface{}) {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var text string
			if err := rows.Scan(&text); err != nil {
				continue
			}
			if seen[text] {
				continue
			}
			seen[text] = true
			lines = append(lines, "- "+text)
		}
	}

	for _, f := range filePaths {
		collect(`SELECT rule FROM repo_rules WHERE scope = ? ORDER BY confidence DESC`, "file:"+f)
	}
	for _, k := range errorKeys {
		collect(`SELECT rule FROM repo_rules WHERE scope = ? ORDER BY confidence DESC`, "check:"+k)
	}

	if len(lines) == 0 {
		return ""
	}
	return "RETRY HINTS\n" + strings.Join(lines, "\n")
}

// nullStringScan adapts a *string destination to accept SQL NULL.
func nullStringScan(dest *string) interface{} {
	return &scanString{dest}
}

type scanString struct {
	dest *string
}

func (s *scanString) Scan(src interface{}) error {
	if src == nil {
		*s.dest = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*s.dest = v
	case []byte:
		*s.dest = string(v)
	default:
		*s.dest = fmt.Sprintf("%v", v)
	}
	return nil
}

