// Package scheduler picks the next WorkUnit for an idle agent slot and
// enforces the verify/reroute budgets that keep a stuck task from looping
// forever.
package scheduler

import (
	"sync"

	"github.com/homer-run/homer/internal/tasks"
	"github.com/homer-run/homer/internal/types"
)

const (
	// MaxVerify caps verification retries per agent before a reroute.
	MaxVerify = 5
	// MaxReroutes caps reroutes per task before it is marked permanently failed.
	MaxReroutes = 2
)

// Scheduler holds the subtask ledger and per-task retry counters. It is
// stateless aside from that bookkeeping; the PRD and issue tracker it reads
// from are owned by the caller and passed in on each call.
type Scheduler struct {
	mu sync.Mutex

	// completedSubtasks maps parent story id -> set of completed subtask ids.
	completedSubtasks map[string]map[string]bool
	// pendingSubtasks maps parent story id -> the subtask ledger stashed by
	// the first decomposition, in original order.
	pendingSubtasks map[string][]types.WorkUnit

	rerouteCounts map[string]int

	tracker        tasks.Tracker
	claimedIssues  map[int]bool
}

// New creates a Scheduler. tracker may be nil if no issue tracker is configured.
func New(tracker tasks.Tracker) *Scheduler {
	return &Scheduler{
		completedSubtasks: make(map[string]map[string]bool),
		pendingSubtasks:   make(map[string][]types.WorkUnit),
		rerouteCounts:     make(map[string]int),
		tracker:           tracker,
		claimedIssues:     make(map[int]bool),
	}
}

// Selection is the result of picking a WorkUnit: the unit itself, and for
// subtasks, the set of sibling criteria already satisfied (used to build the
// agent's prompt).
type Selection struct {
	Unit              types.WorkUnit
	CompletedSiblings []string
}

// Next implements the selection policy: pending subtasks first, then the
// next PRD story (decomposing it if warranted), then the next ready tracker
// issue. Returns ok=false when there is nothing to schedule.
func (s *Scheduler) Next(prd *tasks.PRD) (*Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sel, ok := s.nextPendingSubtaskLocked(); ok {
		return sel, true
	}

	if prd != nil {
		if story, ok := tasks.NextStory(prd); ok {
			return s.selectFromStoryLocked(story), true
		}
	}

	if s.tracker != nil {
		issues, err := s.tracker.FetchOpenIssues()
		if err == nil {
			if ready, ok := tasks.NextReadyIssue(unclaimed(issues, s.claimedIssues)); ok {
				s.claimedIssues[ready.Number] = true
				return &Selection{Unit: issueWorkUnit(*ready)}, true
			}
		}
	}

	return nil, false
}

func unclaimed(issues []tasks.Issue, claimed map[int]bool) []tasks.Issue {
	out := make([]tasks.Issue, 0, len(issues))
	for _, issue := range issues {
		if !claimed[issue.Number] {
			out = append(out, issue)
		}
	}
	return out
}

func issueWorkUnit(issue tasks.Issue) types.WorkUnit {
	return types.WorkUnit{
		Kind:        types.KindIssue,
		IssueNumber: issue.Number,
		Title:       issue.Title,
		Description: issue.Body,
		Labels:      issue.Labels,
	}
}

// nextPendingSubtaskLocked returns the next uncompleted subtask across all
// stories with an active decomposition, along with its completed siblings.
func (s *Scheduler) nextPendingSubtaskLocked() (*Selection, bool) {
	for storyID, units := range s.pendingSubtasks {
		done := s.completedSubtasks[storyID]
		var completedSiblings []string
		var next *types.WorkUnit
		for i := range units {
			u := units[i]
			if done[u.SubtaskID] {
				completedSiblings = append(completedSiblings, u.Criterion)
				continue
			}
			if next == nil {
				next = &u
			}
		}
		if next != nil {
			return &Selection{Unit: *next, CompletedSiblings: completedSiblings}, true
		}
	}
	return nil, false
}

// selectFromStoryLocked decomposes the story if warranted and stashes the
// ledger, or returns the story itself.
func (s *Scheduler) selectFromStoryLocked(story *tasks.Story) *Selection {
	units, ok := tasks.DecomposeStory(story)
	if !ok {
		return &Selection{Unit: types.WorkUnit{
			Kind:               types.KindStory,
			StoryID:            story.ID,
			Title:              story.Title,
			Description:        story.Description,
			AcceptanceCriteria: story.Criteria,
			Priority:           story.Priority,
		}}
	}

	s.pendingSubtasks[story.ID] = units
	if _, ok := s.completedSubtasks[story.ID]; !ok {
		s.completedSubtasks[story.ID] = make(map[string]bool)
	}
	return &Selection{Unit: units[0]}
}

// MarkSubtaskDone records a subtask as complete. A parent story is complete
// once every subtask id in its ledger is in the completion set; the caller
// should follow up with tasks.MarkStoryPassed when that is true.
func (s *Scheduler) MarkSubtaskDone(storyID, subtaskID string) (storyComplete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done, ok := s.completedSubtasks[storyID]
	if !ok {
		done = make(map[string]bool)
		s.completedSubtasks[storyID] = done
	}
	done[subtaskID] = true

	units := s.pendingSubtasks[storyID]
	if len(units) == 0 {
		return false
	}
	for _, u := range units {
		if !done[u.SubtaskID] {
			return false
		}
	}
	return true
}

// CanReroute reports whether taskKey has budget remaining for another reroute.
func (s *Scheduler) CanReroute(taskKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rerouteCounts[taskKey] < MaxReroutes
}

// RecordReroute increments taskKey's reroute count and returns the new count.
func (s *Scheduler) RecordReroute(taskKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rerouteCounts[taskKey]++
	return s.rerouteCounts[taskKey]
}

// RerouteCount returns how many reroutes taskKey has used so far.
func (s *Scheduler) RerouteCount(taskKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rerouteCounts[taskKey]
}
