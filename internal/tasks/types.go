// Package tasks owns the PRD: loading it from disk, picking the next story,
// decomposing a story into subtasks, importing issue-tracker items into PRD
// shape, and persisting pass/fail back to disk atomically.
package tasks

import "github.com/homer-run/homer/internal/types"

// prdCandidatePaths are tried in order; the first one that exists wins.
var prdCandidatePaths = []string{
	"prd.json",
	"ralph/prd.json",
	".homer/prd.json",
}

// Story is one unit of planned work in a PRD.
type Story struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Criteria    []string `json:"criteria"`
	Priority    int      `json:"priority"`
	Passed      bool     `json:"passed"`
	Notes       string   `json:"notes,omitempty"`
}

// PRD is the project's full backlog of stories, as persisted on disk.
type PRD struct {
	Project string   `json:"project"`
	Stories []Story  `json:"stories"`
}

// Issue is a single item pulled from an external issue tracker.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// toWorkUnit converts a Story into its WorkUnit representation.
func (s Story) toWorkUnit() types.WorkUnit {
	return types.WorkUnit{
		Kind:               types.KindStory,
		StoryID:            s.ID,
		Title:              s.Title,
		Description:        s.Description,
		AcceptanceCriteria: s.Criteria,
		Priority:           s.Priority,
		Passed:             s.Passed,
		Notes:              s.Notes,
	}
}
