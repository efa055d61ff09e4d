package tasks

import (
	"regexp"
	"strconv"
	"strings"
)

var checkboxLine = regexp.MustCompile(`(?m)^\s*-\s*\[ \]\s*(.+)$`)

var criteriaSectionHeading = regexp.MustCompile(`(?im)^#{0,3}\s*(acceptance criteria|requirements|tasks)\s*:?\s*$`)

var bulletLine = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)

// anyHeading matches a markdown heading or a plain "Title:" line; either one
// ends a named criteria section.
var anyHeading = regexp.MustCompile(`(?m)^[ \t]*(?:#{1,6}[ \t]+\S.*|[^-*\s].*:)[ \t]*$`)

// IssuesToPRD maps a tracker's issue list into an equivalent PRD, one story
// per issue, numbered by issue number for stable identity.
func IssuesToPRD(issues []Issue, repo string) *PRD {
	prd := &PRD{Project: repo}
	for i, issue := range issues {
		prd.Stories = append(prd.Stories, Story{
			ID:          issueStoryID(issue.Number),
			Title:       issue.Title,
			Description: issue.Body,
			Criteria:    extractCriteria(issue),
			Priority:    i + 1,
		})
	}
	return prd
}

func issueStoryID(number int) string {
	return "issue-" + strconv.Itoa(number)
}

// extractCriteria tries, in order: markdown checkbox lines, a named section's
// bullet lines, then a fallback of the title plus an implicit typecheck gate.
func extractCriteria(issue Issue) []string {
	if matches := checkboxLine.FindAllStringSubmatch(issue.Body, -1); len(matches) > 0 {
		criteria := make([]string, 0, len(matches))
		for _, m := range matches {
			criteria = append(criteria, strings.TrimSpace(m[1]))
		}
		return criteria
	}

	if loc := criteriaSectionHeading.FindStringIndex(issue.Body); loc != nil {
		rest := issue.Body[loc[1]:]
		if next := criteriaSectionHeading.FindStringIndex(rest); next != nil {
			rest = rest[:next[0]]
		}
		if next := anyHeading.FindStringIndex(rest); next != nil {
			rest = rest[:next[0]]
		}
		if matches := bulletLine.FindAllStringSubmatch(rest, -1); len(matches) > 0 {
			criteria := make([]string, 0, len(matches))
			for _, m := range matches {
				criteria = append(criteria, strings.TrimSpace(m[1]))
			}
			return criteria
		}
	}

	return []string{issue.Title, "typecheck passes"}
}
