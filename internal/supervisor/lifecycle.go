package supervisor

import (
	"time"

	"github.com/homer-run/homer/internal/agentbuf"
	"github.com/homer-run/homer/internal/events"
	"github.com/homer-run/homer/internal/memory"
	"github.com/homer-run/homer/internal/types"
)

// onData is the PTY host's onData callback for one agent: feed the ring
// buffer, emit agent:output for any new bytes, and act on a detected
// HOMER_DONE/HOMER_BLOCKED signal.
func (c *Coordinator) onData(agentID string, data []byte) {
	c.mu.Lock()
	rt, ok := c.runtimes[agentID]
	agent := c.agents[agentID]
	c.mu.Unlock()
	if !ok {
		return
	}

	signal, compaction := rt.buffer.Write(data)
	c.publish(events.EventAgentOutput, agentID, events.PriorityLow, map[string]interface{}{
		"id": agentID, "bytes": len(data),
	})
	if compaction != nil && c.deps.Memory != nil && rt.task != nil {
		_ = c.deps.Memory.RecordCompaction(agentID, rt.task.TaskKey(), compaction.FilePaths, compaction.Errors, compaction.ApproachNote)
	}

	if !agent.Status.CanTransition() {
		return
	}

	switch signal.Kind {
	case agentbuf.SignalDone:
		c.enterVerifying(agentID)
	case agentbuf.SignalBlocked:
		c.enterBlocked(agentID, signal.Reason)
	}
}

// onExit is the PTY host's onExit callback.
func (c *Coordinator) onExit(agentID string, exitCode int, signaled bool) {
	c.mu.Lock()
	agent, ok := c.agents[agentID]
	rt := c.runtimes[agentID]
	c.mu.Unlock()
	if !ok || !agent.Status.CanTransition() {
		return
	}

	if agent.Status == types.StatusWorking {
		if c.deps.Memory != nil && rt.task != nil {
			_ = c.deps.Memory.RecordFailure(agentID, rt.task.TaskKey(), "process exited while working", memory.OutcomeCrashed, nil, agent.InjectedRuleIDs)
		}
		c.setStatus(agent, types.StatusExited)
		if rt.task != nil {
			go func() {
				time.Sleep(time.Second)
				c.reroute(agentID, "agent process exited unexpectedly")
			}()
		}
		return
	}
	c.setStatus(agent, types.StatusExited)
}

func (c *Coordinator) enterBlocked(agentID, reason string) {
	c.mu.Lock()
	agent := c.agents[agentID]
	rt := c.runtimes[agentID]
	c.mu.Unlock()

	if c.deps.Memory != nil && rt.task != nil {
		_ = c.deps.Memory.RecordFailure(agentID, rt.task.TaskKey(), reason, memory.OutcomeBlocked, nil, agent.InjectedRuleIDs)
	}
	c.setStatus(agent, types.StatusBlocked)
	c.writeAgentNotes(agentID)
}
