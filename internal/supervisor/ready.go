package supervisor

import (
	"strings"
	"time"

	"github.com/homer-run/homer/internal/ansi"
)

const (
	readyGrace   = 1500 * time.Millisecond
	readyPoll    = 200 * time.Millisecond
	readyHardCap = 8 * time.Second
)

var readyLineEndings = []string{">", "$", "?", "❯", "›"}

// deliverAfterReady waits for the child's prompt to appear (for tools whose
// descriptor has no BuildInitialPromptArgs) before writing prompt to its
// PTY.
func (c *Coordinator) deliverAfterReady(agentID, prompt string) {
	c.mu.Lock()
	rt, ok := c.runtimes[agentID]
	c.mu.Unlock()
	if !ok {
		return
	}

	time.Sleep(readyGrace)

	deadline := time.Now().Add(readyHardCap - readyGrace)
	for time.Now().Before(deadline) {
		if isChildReady(rt.buffer.Bytes()) {
			break
		}
		time.Sleep(readyPoll)
	}

	_ = c.Input(agentID, []byte(prompt+"\n"))
}

// isChildReady reports whether the ANSI-stripped last line of buf looks like
// an interactive prompt.
func isChildReady(buf []byte) bool {
	stripped := ansi.Strip(string(buf))
	lines := strings.Split(stripped, "\n")
	last := strings.TrimRight(lines[len(lines)-1], " \t")
	if last == "" {
		return false
	}
	for _, ending := range readyLineEndings {
		if strings.HasSuffix(last, ending) {
			return true
		}
	}
	lower := strings.ToLower(last)
	return strings.Contains(lower, "claude") || strings.Contains(lower, "aider")
}
