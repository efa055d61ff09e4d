package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/homer-run/homer/internal/events"
	"github.com/homer-run/homer/internal/memory"
	"github.com/homer-run/homer/internal/scheduler"
	"github.com/homer-run/homer/internal/signals"
	"github.com/homer-run/homer/internal/types"
	"github.com/homer-run/homer/internal/verify"
)

// enterVerifying transitions an agent into the verifying state and schedules
// the actual verification run ~100ms later, so the UI sees status and
// verify:start events in the right order.
func (c *Coordinator) enterVerifying(agentID string) {
	c.mu.Lock()
	agent := c.agents[agentID]
	agent.VerifyAttempts++
	attempt := agent.VerifyAttempts
	c.mu.Unlock()

	c.setStatus(agent, types.StatusVerifying)
	c.publish(events.EventVerifyStart, agentID, events.PriorityNormal, map[string]interface{}{
		"id": agentID, "attempt": attempt,
	})

	go func() {
		time.Sleep(100 * time.Millisecond)
		c.runVerify(agentID)
	}()
}

func (c *Coordinator) runVerify(agentID string) {
	c.mu.Lock()
	agent := c.agents[agentID]
	rt := c.runtimes[agentID]
	root := c.deps.ProjectPath
	c.mu.Unlock()

	cmds := verify.Detect(root)
	ctx, cancel := context.WithTimeout(context.Background(), verify.Timeout+10*time.Second)
	defer cancel()
	result := verify.Run(ctx, root, cmds)

	filesTouched := signals.ExtractFilePaths(string(rt.buffer.Bytes()))

	if c.deps.Memory != nil && rt.task != nil {
		_ = c.deps.Memory.RecordVerification(agentID, rt.task.TaskKey(), result, filesTouched, rt.toolID, agent.VerifyAttempts)
	}

	c.publish(events.EventVerifyResult, agentID, events.PriorityNormal, map[string]interface{}{
		"id": agentID, "attempt": agent.VerifyAttempts, "max": scheduler.MaxVerify, "passed": result.Passed, "results": result.Results,
	})

	if result.Passed {
		c.onVerifyPass(agentID, filesTouched)
		return
	}

	c.mu.Lock()
	rt.lastFail = result.FirstFailingOutput()
	rt.attempts = append(rt.attempts, attemptDigest{attempt: agent.VerifyAttempts, summary: truncate(rt.lastFail, 200)})
	c.mu.Unlock()

	if agent.VerifyAttempts >= scheduler.MaxVerify {
		c.onVerifyFailFinal(agentID, filesTouched)
		return
	}
	c.onVerifyFailRetry(agentID, result)
}

func (c *Coordinator) onVerifyPass(agentID string, filesTouched []string) {
	c.mu.Lock()
	agent := c.agents[agentID]
	rt := c.runtimes[agentID]
	task := rt.task
	c.mu.Unlock()

	var storyComplete bool
	var storyID string
	if task != nil && c.deps.Scheduler != nil {
		switch task.Kind {
		case types.KindSubtask:
			storyID = task.ParentID
			storyComplete = c.deps.Scheduler.MarkSubtaskDone(task.ParentID, task.SubtaskID)
		case types.KindStory:
			storyID = task.StoryID
			storyComplete = true
		}
	}

	if c.deps.Memory != nil && task != nil {
		_ = c.deps.Memory.RecordSuccess(agentID, task.TaskKey(), filesTouched, agent.VerifyAttempts, agent.InjectedRuleIDs)
	}

	c.setStatus(agent, types.StatusDone)
	c.publish(events.EventAgentDone, agentID, events.PriorityNormal, map[string]interface{}{
		"id": agentID, "story_complete": storyComplete, "story_id": storyID,
	})
	c.writeAgentNotes(agentID)
	c.saveSessionBestEffort()

	c.mu.Lock()
	c.doneCount++
	shouldConsolidate := c.doneCount%10 == 0
	c.mu.Unlock()
	if shouldConsolidate && c.deps.Memory != nil {
		_ = c.deps.Memory.Consolidate()
	}
}

func (c *Coordinator) onVerifyFailRetry(agentID string, result *types.VerificationResult) {
	c.mu.Lock()
	agent := c.agents[agentID]
	rt := c.runtimes[agentID]
	c.mu.Unlock()

	feedback := c.buildFeedbackBlock(agent, rt, result)
	_ = c.Input(agentID, []byte(feedback))
	if rt != nil {
		rt.buffer.Rearm()
	}
	c.setStatus(agent, types.StatusWorking)
}

func (c *Coordinator) onVerifyFailFinal(agentID string, filesTouched []string) {
	c.mu.Lock()
	agent := c.agents[agentID]
	rt := c.runtimes[agentID]
	task := rt.task
	c.mu.Unlock()

	if c.deps.Memory != nil && task != nil {
		_ = c.deps.Memory.RecordFailure(agentID, task.TaskKey(), "max verify attempts reached", memory.OutcomeFailed, filesTouched, agent.InjectedRuleIDs)
	}
	c.setStatus(agent, types.StatusFailed)
	c.writeAgentNotes(agentID)
	c.reroute(agentID, "verification failed after max attempts")
}

// buildFeedbackBlock renders the failing-check report written back into the
// agent's PTY so it can retry in place.
func (c *Coordinator) buildFeedbackBlock(agent *types.Agent, rt *agentRuntime, result *types.VerificationResult) string {
	block := "HOMER VERIFICATION FAILED\n\n"
	for _, r := range result.FailedChecks() {
		block += fmt.Sprintf("--- %s (%s) ---\n%s\n\n", r.Name, r.Command, r.TruncatedOutput)
	}
	if rt.task != nil && rt.task.Kind == types.KindStory && len(rt.task.AcceptanceCriteria) > 0 {
		block += "Acceptance criteria:\n" + joinBullets(rt.task.AcceptanceCriteria) + "\n"
	}
	if len(rt.attempts) > 1 {
		block += "Previous attempts:\n"
		for _, a := range rt.attempts[:len(rt.attempts)-1] {
			block += fmt.Sprintf("  attempt %d: %s\n", a.attempt, a.summary)
		}
	}
	if c.deps.Memory != nil {
		errorKeys := make([]string, 0, len(result.FailedChecks()))
		for _, r := range result.FailedChecks() {
			errorKeys = append(errorKeys, r.ErrorKey)
		}
		block += c.deps.Memory.BuildRuleHints(nil, errorKeys)
	}
	return block
}

// reroute kills the dying agent and spawns a replacement for the same
// WorkUnit, refusing once the task's reroute budget is spent.
func (c *Coordinator) reroute(agentID, reason string) error {
	c.mu.Lock()
	agent := c.agents[agentID]
	rt := c.runtimes[agentID]
	c.mu.Unlock()
	if rt == nil || rt.task == nil || c.deps.Scheduler == nil {
		return nil
	}
	taskKey := rt.task.TaskKey()
	if !c.deps.Scheduler.CanReroute(taskKey) {
		c.setStatus(agent, types.StatusFailed)
		c.publish(events.EventError, agentID, events.PriorityHigh, map[string]interface{}{
			"id": agentID, "task_key": taskKey, "story_id": storyIDFor(rt.task), "reason": reason, "permanent": true,
		})
		return fmt.Errorf("supervisor: reroute budget spent for %s", taskKey)
	}
	count := c.deps.Scheduler.RecordReroute(taskKey)

	if agent.Status.CanTransition() {
		_ = c.Kill(agentID)
	}
	c.setStatus(agent, types.StatusRerouted)
	c.publish(events.EventAgentRerouted, agentID, events.PriorityHigh, map[string]interface{}{
		"id": agentID, "task_key": taskKey, "reroute_count": count,
	})

	header := c.buildRerouteHeader(rt, count, reason)
	replacement, err := c.spawnWithPrompt(rt.toolID, agent.Label, rt.task, rt.opts, header)
	if err != nil {
		return fmt.Errorf("supervisor: reroute respawn failed: %w", err)
	}
	c.publish(events.EventAgentSpawned, replacement.ID, events.PriorityNormal, map[string]interface{}{
		"id": replacement.ID, "tool": rt.toolID, "task": rt.task, "rerouted_from": agentID,
	})
	return nil
}

func (c *Coordinator) buildRerouteHeader(rt *agentRuntime, count int, reason string) string {
	block := fmt.Sprintf("HOMER REROUTE (attempt %d)\n\nReason: %s\n\n", count, reason)
	if rt.lastFail != "" {
		block += "Last failure:\n" + truncate(rt.lastFail, 500) + "\n\n"
	}
	if len(rt.attempts) > 0 {
		block += "Prior attempts:\n"
		for _, a := range rt.attempts {
			block += fmt.Sprintf("  attempt %d: %s\n", a.attempt, a.summary)
		}
		block += "\n"
	}
	if c.deps.Memory != nil && rt.task != nil {
		block += c.deps.Memory.BuildRerouteContext(rt.task.TaskKey(), nil)
	}
	block += "\nDo not repeat the approaches above; try a different strategy.\n"
	return block
}

// storyIDFor returns the owning story id for a WorkUnit, whether it is the
// story itself or one of its subtasks.
func storyIDFor(u *types.WorkUnit) string {
	if u.Kind == types.KindSubtask {
		return u.ParentID
	}
	return u.StoryID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
