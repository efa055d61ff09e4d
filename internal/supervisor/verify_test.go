package supervisor

import (
	"strings"
	"testing"

	"github.com/homer-run/homer/internal/agentbuf"
	"github.com/homer-run/homer/internal/scheduler"
	"github.com/homer-run/homer/internal/types"
)

func TestBuildFeedbackBlock_IncludesFailedChecksAndCriteria(t *testing.T) {
	c := &Coordinator{}
	agent := &types.Agent{ID: "agent-1"}
	rt := &agentRuntime{
		task: &types.WorkUnit{Kind: types.KindStory, AcceptanceCriteria: []string{"handles empty input"}},
	}
	result := &types.VerificationResult{
		Results: []types.CheckResult{
			{Name: "typecheck", Command: "tsc --noEmit", Passed: false, TruncatedOutput: "src/app.ts(1,1): error TS2322"},
		},
	}

	block := c.buildFeedbackBlock(agent, rt, result)
	if !strings.Contains(block, "HOMER VERIFICATION FAILED") {
		t.Error("missing header")
	}
	if !strings.Contains(block, "typecheck") || !strings.Contains(block, "TS2322") {
		t.Error("missing check output")
	}
	if !strings.Contains(block, "handles empty input") {
		t.Error("missing acceptance criteria")
	}
}

func TestBuildRerouteHeader_IncludesReasonAndLastFailure(t *testing.T) {
	c := &Coordinator{}
	rt := &agentRuntime{
		task:     &types.WorkUnit{Kind: types.KindStory, StoryID: "story-1"},
		lastFail: "TypeError: cannot read property of undefined",
		attempts: []attemptDigest{{attempt: 1, summary: "first failure"}},
	}

	header := c.buildRerouteHeader(rt, 1, "verification failed after max attempts")
	if !strings.Contains(header, "HOMER REROUTE") {
		t.Error("missing header")
	}
	if !strings.Contains(header, "verification failed after max attempts") {
		t.Error("missing reason")
	}
	if !strings.Contains(header, "TypeError") {
		t.Error("missing last failure")
	}
	if !strings.Contains(header, "first failure") {
		t.Error("missing prior attempt digest")
	}
}

func TestReroute_RefusesWhenBudgetSpent(t *testing.T) {
	sched := scheduler.New(nil)
	c := &Coordinator{
		deps:     Deps{Scheduler: sched},
		agents:   map[string]*types.Agent{},
		runtimes: map[string]*agentRuntime{},
	}
	task := &types.WorkUnit{Kind: types.KindStory, StoryID: "story-1"}
	agent := &types.Agent{ID: "agent-1", Status: types.StatusFailed}
	c.agents["agent-1"] = agent
	c.runtimes["agent-1"] = &agentRuntime{task: task}

	for i := 0; i < scheduler.MaxReroutes; i++ {
		sched.RecordReroute(task.TaskKey())
	}

	if err := c.reroute("agent-1", "exhausted"); err == nil {
		t.Fatal("expected reroute to be refused once budget is spent")
	}
	if agent.Status != types.StatusFailed {
		t.Errorf("status = %v, want StatusFailed", agent.Status)
	}
}

func TestReroute_SpawnsReplacementAgent(t *testing.T) {
	c := newTestCoordinator(t)
	c.deps.Scheduler = scheduler.New(nil)

	task := &types.WorkUnit{Kind: types.KindSubtask, ParentID: "story-1", SubtaskID: "sub-1", Criterion: "x"}
	agent, err := c.Spawn("/bin/echo", "", task, types.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := c.reroute(agent.ID, "agent process exited unexpectedly"); err != nil {
		t.Fatalf("reroute: %v", err)
	}

	got, _ := c.Get(agent.ID)
	if got.Status != types.StatusRerouted {
		t.Errorf("original status = %v, want StatusRerouted", got.Status)
	}
	if len(c.Agents()) != 2 {
		t.Errorf("expected a replacement agent to be spawned, have %d agents", len(c.Agents()))
	}
}

func TestOnVerifyFailRetry_RearmsBuffer(t *testing.T) {
	c := newTestCoordinator(t)

	agent, err := c.Spawn("/bin/echo", "", &types.WorkUnit{Kind: types.KindStory, StoryID: "story-1"}, types.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	c.mu.Lock()
	rt := c.runtimes[agent.ID]
	c.mu.Unlock()

	// Simulate a HOMER_DONE that already fired once this attempt.
	rt.buffer.Write([]byte("HOMER_DONE\n"))
	if sig, _ := rt.buffer.Write([]byte("HOMER_DONE\n")); sig.Kind != agentbuf.SignalNone {
		t.Fatal("buffer should be disarmed before retry handling")
	}

	c.onVerifyFailRetry(agent.ID, &types.VerificationResult{Passed: false})

	sig, _ := rt.buffer.Write([]byte("HOMER_DONE\n"))
	if sig.Kind != agentbuf.SignalDone {
		t.Error("onVerifyFailRetry should rearm the buffer so a later HOMER_DONE fires again")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ab", 10); got != "ab" {
		t.Errorf("truncate = %q", got)
	}
}
