package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/homer-run/homer/internal/types"
)

// Load finds the first existing PRD file among the candidate paths, rooted
// at dir, and parses it. A missing file or malformed JSON is treated as
// "no PRD" (nil, nil) rather than an error, per the discovery contract.
func Load(dir string) (*PRD, string, error) {
	for _, rel := range prdCandidatePaths {
		path := filepath.Join(dir, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var prd PRD
		if err := json.Unmarshal(data, &prd); err != nil {
			return nil, "", nil
		}
		return &prd, path, nil
	}
	return nil, "", nil
}

// Save writes the PRD atomically: write to a sibling temp file, then rename
// over the target. Rename is atomic on the same filesystem, which a sibling
// temp file guarantees.
func Save(path string, prd *PRD) error {
	data, err := json.MarshalIndent(prd, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal prd: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".prd-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp prd file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp prd file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp prd file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename prd file: %w", err)
	}
	return nil
}

// NextStory returns the highest-priority story that has not passed yet,
// stably sorted ascending by priority (missing priority sorts as 99).
func NextStory(prd *PRD) (*Story, bool) {
	if prd == nil {
		return nil, false
	}
	candidates := make([]int, 0, len(prd.Stories))
	for i, s := range prd.Stories {
		if !s.Passed {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	priority := func(i int) int {
		p := prd.Stories[i].Priority
		if p == 0 {
			return 99
		}
		return p
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return priority(candidates[a]) < priority(candidates[b])
	})
	story := prd.Stories[candidates[0]]
	return &story, true
}

// DecomposeStory splits a story into one Subtask WorkUnit per acceptance
// criterion, but only when there are more than two criteria to justify it.
func DecomposeStory(story *Story) ([]types.WorkUnit, bool) {
	if len(story.Criteria) <= 2 {
		return nil, false
	}
	units := make([]types.WorkUnit, 0, len(story.Criteria))
	for i, c := range story.Criteria {
		units = append(units, types.WorkUnit{
			Kind:      types.KindSubtask,
			SubtaskID: fmt.Sprintf("%s-%d", story.ID, i+1),
			ParentID:  story.ID,
			Criterion: c,
			Title:     c,
		})
	}
	return units, true
}

// MarkStoryPassed flips one story's Passed flag and persists the PRD.
func MarkStoryPassed(path string, prd *PRD, storyID string) error {
	return setStoryOutcome(path, prd, storyID, true, "")
}

// MarkStoryFailed records a failure note on a story and persists the PRD.
// The story's Passed flag is left as-is: permanent failure is modeled by
// the scheduler giving up on the task, not by the PRD record itself.
func MarkStoryFailed(path string, prd *PRD, storyID, note string) error {
	return setStoryOutcome(path, prd, storyID, false, note)
}

func setStoryOutcome(path string, prd *PRD, storyID string, passed bool, note string) error {
	for i := range prd.Stories {
		if prd.Stories[i].ID != storyID {
			continue
		}
		if passed {
			prd.Stories[i].Passed = true
		}
		if note != "" {
			prd.Stories[i].Notes = note
		}
		return Save(path, prd)
	}
	return fmt.Errorf("story %s not found in prd", storyID)
}
