// Package types holds the shared domain model: agents, work units, tool
// descriptors, verification results, and the dashboard snapshot that the
// control surface serializes to clients.
package types

import (
	"fmt"
	"time"
)

// AgentStatus is the agent's position in the supervisor's state machine.
type AgentStatus string

const (
	StatusWorking   AgentStatus = "working"
	StatusVerifying AgentStatus = "verifying"
	StatusDone      AgentStatus = "done"
	StatusBlocked   AgentStatus = "blocked"
	StatusFailed    AgentStatus = "failed"
	StatusRerouted  AgentStatus = "rerouted"
	StatusExited    AgentStatus = "exited"
	StatusKilled    AgentStatus = "killed"
)

// terminalStatuses never transition further once reached.
var terminalStatuses = map[AgentStatus]bool{
	StatusDone:     true,
	StatusBlocked:  true,
	StatusFailed:   true,
	StatusRerouted: true,
	StatusExited:   true,
	StatusKilled:   true,
}

// IsTerminal reports whether status is a terminal state for an agent.
func (s AgentStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// VerifyHistoryEntry records one verification attempt against the current task.
type VerifyHistoryEntry struct {
	Attempt      int       `json:"attempt"`
	FailingNames []string  `json:"failing_names"`
	FirstLines   []string  `json:"first_lines"`
	CreatedAt    time.Time `json:"created_at"`
}

// Agent is a single child process attached to a PTY, with its own lifecycle.
type Agent struct {
	ID              string               `json:"id"`
	ToolID          string               `json:"tool_id"`
	Status          AgentStatus          `json:"status"`
	VerifyAttempts  int                  `json:"verify_attempts"`
	Task            *WorkUnit            `json:"task,omitempty"`
	VerifyHistory   []VerifyHistoryEntry `json:"verify_history"`
	InjectedRuleIDs []int64              `json:"injected_rule_ids,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	Label           string               `json:"label,omitempty"`
	PID             int                  `json:"pid"`
}

// CanTransition reports whether the agent may leave its current status: a
// terminal status never transitions again.
func (a *Agent) CanTransition() bool {
	return !a.Status.IsTerminal()
}

// WorkUnitKind tags the variant held by a WorkUnit.
type WorkUnitKind string

const (
	KindStory   WorkUnitKind = "story"
	KindSubtask WorkUnitKind = "subtask"
	KindIssue   WorkUnitKind = "issue"
)

// WorkUnit is the tagged variant of schedulable work: a Story, a Subtask of a
// story, or an Issue imported from a tracker. Equality is by (Kind, Key).
type WorkUnit struct {
	Kind WorkUnitKind `json:"kind"`

	// Story fields
	StoryID            string   `json:"story_id,omitempty"`
	Title               string   `json:"title,omitempty"`
	Description         string   `json:"description,omitempty"`
	AcceptanceCriteria  []string `json:"acceptance_criteria,omitempty"`
	Priority            int      `json:"priority,omitempty"`
	Passed              bool     `json:"passed,omitempty"`
	Notes               string   `json:"notes,omitempty"`

	// Subtask fields
	SubtaskID string `json:"subtask_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	Criterion string `json:"criterion,omitempty"`

	// Issue fields
	IssueNumber int      `json:"issue_number,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// Key returns the stable identity used for claiming and for memory task keys.
func (w *WorkUnit) Key() string {
	switch w.Kind {
	case KindStory:
		return w.StoryID
	case KindSubtask:
		return w.SubtaskID
	case KindIssue:
		return fmt.Sprintf("%d", w.IssueNumber)
	default:
		return ""
	}
}

// TaskKey returns the memory-store task key of form "story:<id>" or
// "issue:<num>"; subtasks carry their parent story's key so that memory is
// accumulated at the story level.
func (w *WorkUnit) TaskKey() string {
	switch w.Kind {
	case KindStory:
		return "story:" + w.StoryID
	case KindSubtask:
		return "story:" + w.ParentID
	case KindIssue:
		return fmt.Sprintf("issue:%d", w.IssueNumber)
	default:
		return ""
	}
}

// Equal compares WorkUnits by (kind, key) as spec'd.
func (w *WorkUnit) Equal(other *WorkUnit) bool {
	if w == nil || other == nil {
		return w == other
	}
	return w.Kind == other.Kind && w.Key() == other.Key()
}

// ToolCapability is a bit in a tool descriptor's capability set.
type ToolCapability uint8

const (
	CapInteractive ToolCapability = 1 << iota
	CapSupportsSystemPrompt
	CapSupportsInitialPrompt
)

// Has reports whether bit is set in c.
func (c ToolCapability) Has(bit ToolCapability) bool {
	return c&bit != 0
}

// SpawnOptions carries the parameters a tool's argument builder needs.
type SpawnOptions struct {
	Model          string
	PermissionMode string
	SystemPrompt   string
	ProjectPath    string
}

// ToolDescriptor is the immutable, process-wide description of one supported
// CLI tool: its command, capabilities, and argument builders.
type ToolDescriptor struct {
	ID                     string
	Name                   string
	Command                string
	Capabilities           ToolCapability
	PermissionModes        []string
	RequiredEnvVar         string
	BuildArgs              func(opts SpawnOptions) []string
	BuildInitialPromptArgs func(initialPrompt string) []string
}

// CheckResult is the outcome of one verification command.
type CheckResult struct {
	Name            string `json:"name"`
	Command         string `json:"command"`
	Passed          bool   `json:"passed"`
	TruncatedOutput string `json:"truncated_output"`
	ErrorKey        string `json:"error_key,omitempty"`
}

// VerificationResult is the authoritative outcome of running a project's own
// checks (typecheck/lint/test) for a single verify attempt.
type VerificationResult struct {
	Passed  bool          `json:"passed"`
	Skipped bool          `json:"skipped"`
	Results []CheckResult `json:"results"`
}

// FirstFailingOutput returns the first failed check's truncated output, or
// the empty string if every check passed.
func (v *VerificationResult) FirstFailingOutput() string {
	for _, r := range v.Results {
		if !r.Passed {
			return r.TruncatedOutput
		}
	}
	return ""
}

// FailedChecks returns only the failing checks, in original order.
func (v *VerificationResult) FailedChecks() []CheckResult {
	var out []CheckResult
	for _, r := range v.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Alert is a dashboard-facing notification derived from bus events.
type Alert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	AgentID      string    `json:"agent_id"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// ActivityLog is one line of the human-readable activity feed.
type ActivityLog struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// DashboardState is the full snapshot the control surface serializes on
// `GET state` and on every debounced `state` event.
type DashboardState struct {
	Agents      map[string]*Agent `json:"agents"`
	Alerts      []*Alert          `json:"alerts"`
	ActivityLog []*ActivityLog    `json:"activity_log"`
	ActiveTool  string            `json:"active_tool"`
	Repo        string            `json:"repo"`
	StartedAt   time.Time         `json:"started_at"`
}

// NewDashboardState returns an empty state with initialized collections.
func NewDashboardState() *DashboardState {
	return &DashboardState{
		Agents:      make(map[string]*Agent),
		Alerts:      []*Alert{},
		ActivityLog: []*ActivityLog{},
		StartedAt:   time.Now(),
	}
}

// WSMessage envelopes a typed payload for the /ws stream.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	WSTypeState    = "state"
	WSTypeAgent    = "agent"
	WSTypeAlert    = "alert"
	WSTypeActivity = "activity"
	WSTypeError    = "error"
)
