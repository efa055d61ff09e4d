// Package supervisor is the orchestrator the rest of the system calls into:
// it owns the agent registry, wires the PTY host's output into the output
// processor, drives the verify/reroute state machine, and talks to memory,
// the scheduler, and the event bus. The teacher called this role "captain";
// here it coordinates coding-agent children instead of recon/implementation
// subagents.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/homer-run/homer/internal/agentbuf"
	"github.com/homer-run/homer/internal/events"
	"github.com/homer-run/homer/internal/memory"
	"github.com/homer-run/homer/internal/ptyhost"
	"github.com/homer-run/homer/internal/scheduler"
	"github.com/homer-run/homer/internal/tooling"
	"github.com/homer-run/homer/internal/types"
)

// Deps are the collaborators the Coordinator wires together. Catalog is
// required. Memory, Scheduler and Bus may be nil, and NotesDir and
// SessionPath may be empty, to disable those side effects (useful in tests).
type Deps struct {
	Catalog     *tooling.Catalog
	Memory      *memory.Store
	Scheduler   *scheduler.Scheduler
	Bus         *events.Bus
	ProjectPath string
	SessionPath string
	NotesDir    string
}

// agentRuntime is the process-side state for one Agent that doesn't belong
// on the wire-serializable types.Agent.
type agentRuntime struct {
	handle   *ptyhost.Handle
	buffer   *agentbuf.Buffer
	toolID   string
	task     *types.WorkUnit
	opts     types.SpawnOptions
	lastFail string
	attempts []attemptDigest
}

type attemptDigest struct {
	attempt int
	summary string
}

// Coordinator owns every live agent for one repository.
type Coordinator struct {
	mu           sync.Mutex
	deps         Deps
	agents       map[string]*types.Agent
	runtimes     map[string]*agentRuntime
	agentCounter int
	doneCount    int
}

// New builds a Coordinator. Call Spawn to bring up agents.
func New(deps Deps) *Coordinator {
	return &Coordinator{
		deps:     deps,
		agents:   make(map[string]*types.Agent),
		runtimes: make(map[string]*agentRuntime),
	}
}

// Agents returns a snapshot slice of every known agent, in no particular
// order.
func (c *Coordinator) Agents() []*types.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	return out
}

// Get returns the agent with id, if any.
func (c *Coordinator) Get(id string) (*types.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[id]
	return a, ok
}

// nextAgentID assigns a stable, incrementing id, optionally prefixed by a
// user-supplied label.
func (c *Coordinator) nextAgentID(label string) string {
	c.agentCounter++
	if label != "" {
		return fmt.Sprintf("%s-%d", label, c.agentCounter)
	}
	return fmt.Sprintf("agent-%d", c.agentCounter)
}

// Spawn starts a new agent running toolID against task (nil for interactive
// mode, with no WorkUnit attached). On a failed process start, no Agent
// record is created and the PTY host's ToolSpawnFailed is returned as-is.
func (c *Coordinator) Spawn(toolID, label string, task *types.WorkUnit, opts types.SpawnOptions) (*types.Agent, error) {
	prompt := ""
	if task != nil {
		prompt = buildTaskPrompt(task)
	}
	return c.spawnWithPrompt(toolID, label, task, opts, prompt)
}

// spawnWithPrompt is Spawn's implementation, parameterized on the initial
// prompt text so reroute can substitute a "HOMER REROUTE" header in place of
// the normal task prompt for the replacement agent.
func (c *Coordinator) spawnWithPrompt(toolID, label string, task *types.WorkUnit, opts types.SpawnOptions, prompt string) (*types.Agent, error) {
	c.mu.Lock()
	descriptor, ok := c.deps.Catalog.Get(toolID)
	if !ok {
		descriptor = c.deps.Catalog.GenericFallback(toolID)
	}
	id := c.nextAgentID(label)
	c.mu.Unlock()

	args := descriptor.BuildArgs(opts)
	if descriptor.BuildInitialPromptArgs != nil && prompt != "" {
		args = append(args, descriptor.BuildInitialPromptArgs(prompt)...)
	}
	buf := agentbuf.New()

	agent := &types.Agent{
		ID:        id,
		ToolID:    descriptor.ID,
		Status:    types.StatusWorking,
		Task:      task,
		Label:     label,
		StartedAt: time.Now(),
	}

	handle, err := ptyhost.Spawn(descriptor.Command, args, nil, opts.ProjectPath, 120, 32,
		func(data []byte) { c.onData(id, data) },
		func(exitCode int, signaled bool) { c.onExit(id, exitCode, signaled) },
	)
	if err != nil {
		c.publish(events.EventToolSpawnFail, "", events.PriorityHigh, map[string]interface{}{
			"tool_id": toolID, "cause": err.Error(),
		})
		return nil, err
	}
	agent.PID = handle.PID()

	c.mu.Lock()
	c.agents[id] = agent
	c.runtimes[id] = &agentRuntime{handle: handle, buffer: buf, toolID: descriptor.ID, task: task, opts: opts}
	c.mu.Unlock()

	// Tools without BuildInitialPromptArgs can't take the prompt as a spawn
	// argument; it has to be typed in once the child's shell prompt appears.
	if descriptor.BuildInitialPromptArgs == nil && prompt != "" {
		go c.deliverAfterReady(id, prompt)
	}

	c.publish(events.EventAgentSpawned, id, events.PriorityNormal, map[string]interface{}{
		"id": id, "tool": descriptor.ID, "task": task,
	})
	return agent, nil
}

// Input writes bytes to the agent's PTY (used for interactive sessions and
// for prompt/feedback delivery).
func (c *Coordinator) Input(id string, data []byte) error {
	c.mu.Lock()
	rt, ok := c.runtimes[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown agent %q", id)
	}
	return rt.handle.Write(data)
}

// Resize propagates a terminal resize to the agent's PTY.
func (c *Coordinator) Resize(id string, cols, rows int) error {
	c.mu.Lock()
	rt, ok := c.runtimes[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown agent %q", id)
	}
	return rt.handle.Resize(cols, rows)
}

// Kill terminates the agent's process and marks it killed.
func (c *Coordinator) Kill(id string) error {
	c.mu.Lock()
	rt, ok := c.runtimes[id]
	agent := c.agents[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown agent %q", id)
	}
	if err := rt.handle.Kill(); err != nil {
		return err
	}
	c.setStatus(agent, types.StatusKilled)
	return nil
}

// Output returns the agent's buffered output so far.
func (c *Coordinator) Output(id string) []byte {
	c.mu.Lock()
	rt, ok := c.runtimes[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return rt.buffer.Bytes()
}

func (c *Coordinator) setStatus(agent *types.Agent, status types.AgentStatus) {
	c.mu.Lock()
	agent.Status = status
	c.mu.Unlock()
	c.publish(events.EventAgentStatus, agent.ID, events.PriorityNormal, map[string]interface{}{
		"id": agent.ID, "status": string(status),
	})
}

func (c *Coordinator) publish(eventType events.EventType, target string, priority int, payload map[string]interface{}) {
	if c.deps.Bus == nil {
		return
	}
	t := "all"
	if target != "" {
		t = target
	}
	c.deps.Bus.Publish(events.NewEvent(eventType, "supervisor", t, priority, payload))
}

func buildTaskPrompt(task *types.WorkUnit) string {
	switch task.Kind {
	case types.KindSubtask:
		return fmt.Sprintf("Work on: %s\n\nCriterion: %s\n\nWhen done, print HOMER_DONE. If you cannot proceed, print HOMER_BLOCKED: <reason>.", task.ParentID, task.Criterion)
	case types.KindStory:
		return fmt.Sprintf("Work on: %s\n\n%s\n\nAcceptance criteria:\n%s\n\nWhen done, print HOMER_DONE. If you cannot proceed, print HOMER_BLOCKED: <reason>.", task.Title, task.Description, joinBullets(task.AcceptanceCriteria))
	case types.KindIssue:
		return fmt.Sprintf("Resolve issue #%d.\n\nWhen done, print HOMER_DONE. If you cannot proceed, print HOMER_BLOCKED: <reason>.", task.IssueNumber)
	default:
		return ""
	}
}

func joinBullets(items []string) string {
	out := ""
	for _, i := range items {
		out += "- " + i + "\n"
	}
	return out
}
