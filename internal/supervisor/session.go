package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/homer-run/homer/internal/ansi"
	"github.com/homer-run/homer/internal/signals"
	"github.com/homer-run/homer/internal/types"
)

const sessionMaxAge = 24 * time.Hour

// sessionAgent is the persisted shape of one agent within a Session.
type sessionAgent struct {
	ID         string          `json:"id"`
	Task       *types.WorkUnit `json:"task,omitempty"`
	Tool       string          `json:"tool"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	OutputTail []string        `json:"output_tail"`
}

// Session is the on-shutdown snapshot, persisted atomically.
type Session struct {
	SessionID    string         `json:"session_id"`
	Repo         string         `json:"repo"`
	Cwd          string         `json:"cwd"`
	SavedAt      time.Time      `json:"saved_at"`
	ActiveTool   string         `json:"active_tool"`
	Agents       []sessionAgent `json:"agents"`
	AgentCounter int            `json:"agent_counter"`
}

// SaveSession writes the current state to path atomically (temp file +
// rename), and mirrors it into memory's sessions table if configured.
func (c *Coordinator) SaveSession(path, sessionID, repo, activeTool string) error {
	c.mu.Lock()
	session := Session{
		SessionID:    sessionID,
		Repo:         repo,
		Cwd:          c.deps.ProjectPath,
		SavedAt:      time.Now(),
		ActiveTool:   activeTool,
		AgentCounter: c.agentCounter,
	}
	for id, agent := range c.agents {
		rt := c.runtimes[id]
		session.Agents = append(session.Agents, sessionAgent{
			ID:         id,
			Task:       agent.Task,
			Tool:       agent.ToolID,
			Status:     string(agent.Status),
			StartedAt:  agent.StartedAt,
			OutputTail: tailLines(rt, 100),
		})
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("supervisor: marshal session: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	if c.deps.Memory != nil {
		_ = c.deps.Memory.SaveSession(sessionID, repo, string(data))
	}
	return nil
}

// LoadSession reads path, returning (nil, nil) if the file is missing or
// more than 24h stale.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor: read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil
	}
	if time.Since(s.SavedAt) > sessionMaxAge {
		return nil, nil
	}
	return &s, nil
}

// Resume recreates every non-done agent from session with a "continue
// previous work" preamble including up to 15 lines of its saved tail.
func (c *Coordinator) Resume(session *Session, opts types.SpawnOptions) {
	for _, sa := range session.Agents {
		if sa.Status == string(types.StatusDone) {
			continue
		}
		tail := sa.OutputTail
		if len(tail) > 15 {
			tail = tail[len(tail)-15:]
		}
		preamble := fmt.Sprintf("Continue previous work as %s\n\n%s", sa.ID, strings.Join(tail, "\n"))

		agent, err := c.Spawn(sa.Tool, "", sa.Task, opts)
		if err != nil {
			continue
		}
		_ = c.Input(agent.ID, []byte(preamble+"\n"))
	}
}

// writeAgentNotes persists a compact status + touched-file-path summary for
// an agent, capped, to deps.NotesDir/{id}.md. No-op if NotesDir is unset.
func (c *Coordinator) writeAgentNotes(agentID string) {
	if c.deps.NotesDir == "" {
		return
	}
	c.mu.Lock()
	agent := c.agents[agentID]
	rt := c.runtimes[agentID]
	c.mu.Unlock()
	if rt == nil {
		return
	}

	note := fmt.Sprintf("# %s\n\nstatus: %s\nattempts: %d\n", agentID, agent.Status, agent.VerifyAttempts)
	if rt.lastFail != "" {
		note += "\nlast failure:\n```\n" + truncate(rt.lastFail, 500) + "\n```\n"
	}
	if rt.buffer != nil {
		paths := signals.ExtractFilePaths(string(rt.buffer.Bytes()))
		if len(paths) > 20 {
			paths = paths[:20]
		}
		if len(paths) > 0 {
			note += "\nfiles:\n- " + strings.Join(paths, "\n- ") + "\n"
		}
	}

	if err := os.MkdirAll(c.deps.NotesDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(c.deps.NotesDir, agentID+".md"), []byte(note), 0o644)
}

func (c *Coordinator) saveSessionBestEffort() {
	if c.deps.SessionPath == "" {
		return
	}
	_ = c.SaveSession(c.deps.SessionPath, "", c.deps.ProjectPath, "")
}

func tailLines(rt *agentRuntime, maxLines int) []string {
	if rt == nil {
		return nil
	}
	stripped := ansi.Strip(string(rt.buffer.Bytes()))
	lines := strings.Split(stripped, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("supervisor: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("supervisor: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("supervisor: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("supervisor: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("supervisor: rename temp file: %w", err)
	}
	return nil
}
