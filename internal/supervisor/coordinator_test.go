package supervisor

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/homer-run/homer/internal/tooling"
	"github.com/homer-run/homer/internal/types"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	catalog, err := tooling.Init(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return New(Deps{Catalog: catalog, ProjectPath: t.TempDir()})
}

func TestSpawn_RegistersAgentAndStreamsOutput(t *testing.T) {
	c := newTestCoordinator(t)

	agent, err := c.Spawn("/bin/echo", "", nil, types.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if agent.Status != types.StatusWorking || agent.PID == 0 {
		t.Fatalf("agent = %+v", agent)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.Output(agent.ID)) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(c.Output(agent.ID)) == 0 {
		t.Error("expected some output to be captured")
	}
}

func TestSpawn_UnknownCommandFails(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.Spawn("/no/such/binary-xyz", "", nil, types.SpawnOptions{}); err == nil {
		t.Fatal("expected spawn failure for nonexistent binary")
	}
	if len(c.Agents()) != 0 {
		t.Error("expected no agent recorded after spawn failure")
	}
}

func TestKill_MarksAgentKilled(t *testing.T) {
	c := newTestCoordinator(t)
	// /bin/cat with no args blocks reading stdin, so it stays alive until killed.
	agent, err := c.Spawn("/bin/cat", "", nil, types.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := c.Kill(agent.ID); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	got, ok := c.Get(agent.ID)
	if !ok {
		t.Fatal("agent missing after kill")
	}
	if !got.Status.IsTerminal() {
		t.Errorf("status = %v, want terminal", got.Status)
	}
}

func TestBuildTaskPrompt_Subtask(t *testing.T) {
	task := &types.WorkUnit{Kind: types.KindSubtask, ParentID: "story-1", Criterion: "handles empty input"}
	prompt := buildTaskPrompt(task)
	if !strings.Contains(prompt, "story-1") || !strings.Contains(prompt, "handles empty input") || !strings.Contains(prompt, "HOMER_DONE") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestBuildTaskPrompt_Issue(t *testing.T) {
	task := &types.WorkUnit{Kind: types.KindIssue, IssueNumber: 42}
	prompt := buildTaskPrompt(task)
	if !strings.Contains(prompt, "#42") {
		t.Errorf("prompt = %q", prompt)
	}
}
