// Package ptyhost spawns agent child processes attached to a pseudo
// terminal and exposes the small surface the rest of the orchestrator needs:
// write, resize, kill, and callbacks for data and exit.
package ptyhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/time/rate"
)

// minCols and minRows are the floor enforced on every resize, matching the
// smallest terminal size interactive CLIs are expected to render sanely in.
const (
	minCols = 40
	minRows = 10

	// ioRate/ioBurst bound how fast a single Handle accepts Write/Resize
	// calls, so a runaway caller (a dragged terminal window, a pasted
	// megabyte of text) can't flood the child's PTY faster than it can
	// drain it.
	ioRate  = 200
	ioBurst = 40
)

// ToolSpawnFailed is returned (and separately published as an event by the
// caller) when starting a child process fails; no Handle is created.
type ToolSpawnFailed struct {
	ToolID string
	Cause  error
}

func (e *ToolSpawnFailed) Error() string {
	return fmt.Sprintf("spawn tool %s: %v", e.ToolID, e.Cause)
}

func (e *ToolSpawnFailed) Unwrap() error { return e.Cause }

// Handle is one live PTY-attached child process.
type Handle struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	pty     *os.File
	closed  bool
	limiter *rate.Limiter

	onData func([]byte)
	onExit func(exitCode int, signaled bool)
}

// PID returns the child process id.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Spawn starts toolCmd with args under a PTY sized to cols/rows (floored at
// 40x10), with env (CLAUDECODE stripped) and cwd, and begins streaming
// output to onData. onExit fires exactly once when the child exits or is
// killed.
func Spawn(toolCmd string, args []string, env []string, cwd string, cols, rows int, onData func([]byte), onExit func(exitCode int, signaled bool)) (*Handle, error) {
	cols, rows = floorSize(cols, rows)

	cmd := exec.Command(toolCmd, args...)
	cmd.Dir = cwd
	cmd.Env = stripClaudeCode(env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, &ToolSpawnFailed{ToolID: toolCmd, Cause: err}
	}

	h := &Handle{cmd: cmd, pty: ptmx, onData: onData, onExit: onExit, limiter: rate.NewLimiter(ioRate, ioBurst)}
	go h.readLoop()
	go h.waitLoop()
	return h, nil
}

// stripClaudeCode removes the CLAUDECODE environment variable, which trips a
// nesting guard in at least one supported CLI when already set.
func stripClaudeCode(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if len(kv) >= len("CLAUDECODE=") && kv[:len("CLAUDECODE=")] == "CLAUDECODE=" {
			continue
		}
		if kv == "CLAUDECODE" {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func floorSize(cols, rows int) (int, int) {
	if cols < minCols {
		cols = minCols
	}
	if rows < minRows {
		rows = minRows
	}
	return cols, rows
}

func (h *Handle) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := h.pty.Read(buf)
		if n > 0 && h.onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.onData(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) waitLoop() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.pty.Close()

	if h.onExit == nil {
		return
	}
	exitCode := 0
	signaled := false
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
		signaled = exitErr.ExitCode() == -1
	}
	h.onExit(exitCode, signaled)
}

// Write forwards bytes verbatim to the child's stdin via the PTY master,
// throttled by the handle's rate limiter so a burst of input can't outrun
// the child.
func (h *Handle) Write(data []byte) error {
	if err := h.limiter.Wait(context.Background()); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return io.ErrClosedPipe
	}
	_, err := h.pty.Write(data)
	return err
}

// Resize propagates a new terminal size to the child's TTY, enforcing the
// 40x10 floor and sharing Write's rate limit (a dragged terminal window can
// fire dozens of resizes a second).
func (h *Handle) Resize(cols, rows int) error {
	if err := h.limiter.Wait(context.Background()); err != nil {
		return err
	}
	cols, rows = floorSize(cols, rows)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return pty.Setsize(h.pty, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill terminates the child process.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
