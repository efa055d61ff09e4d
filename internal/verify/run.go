package verify

import (
	"context"
	"os/exec"
	"time"

	"github.com/homer-run/homer/internal/types"
	"golang.org/x/time/rate"
)

// Timeout is the hard per-command ceiling; a command exceeding it is
// treated as a failed check.
const Timeout = 120 * time.Second

const (
	keepOnSuccess = 500
	keepOnFailure = 800

	// maxSpawnsPerMinute bounds how many verification subprocesses a repo
	// may launch per minute, so a retry loop that keeps re-verifying can't
	// fork the project's own test runner without limit.
	maxSpawnsPerMinute = 30
)

// spawnLimiter is shared across every verification run in the process; it
// throttles exec.CommandContext calls, not the commands' own runtime.
var spawnLimiter = rate.NewLimiter(rate.Limit(maxSpawnsPerMinute)/60, maxSpawnsPerMinute/4)

// Run executes every detected command in root, in order, without stopping at
// a failure (commands still run after an earlier failure — the caller gets a
// result per check). If no commands are detected, the result is
// {Passed: true, Skipped: true}.
func Run(ctx context.Context, root string, cmds []Command) *types.VerificationResult {
	if len(cmds) == 0 {
		return &types.VerificationResult{Passed: true, Skipped: true}
	}

	result := &types.VerificationResult{Passed: true}
	for _, c := range cmds {
		check := runOne(ctx, root, c)
		if !check.Passed {
			result.Passed = false
		}
		result.Results = append(result.Results, check)
	}
	return result
}

func runOne(ctx context.Context, root string, c Command) types.CheckResult {
	cctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	if err := spawnLimiter.Wait(cctx); err != nil {
		return types.CheckResult{
			Name:            c.Name,
			Command:         joinArgv(c.Argv),
			Passed:          false,
			ErrorKey:        c.Name + ":rate_limited",
			TruncatedOutput: "verification subprocess rate limit exceeded",
		}
	}

	cmd := exec.CommandContext(cctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = root
	cmd.Stdin = nil

	out, err := cmd.CombinedOutput()

	check := types.CheckResult{
		Name:    c.Name,
		Command: joinArgv(c.Argv),
		Passed:  err == nil,
	}

	if cctx.Err() == context.DeadlineExceeded {
		check.Passed = false
		check.ErrorKey = c.Name + ":unknown"
		check.TruncatedOutput = truncate(string(out), keepOnFailure)
		return check
	}

	if err != nil {
		check.TruncatedOutput = truncate(string(out), keepOnFailure)
		check.ErrorKey = NormalizeErrorKey(c.Name, check.TruncatedOutput)
		return check
	}

	check.TruncatedOutput = truncate(string(out), keepOnSuccess)
	return check
}

func truncate(s string, keep int) string {
	if len(s) <= keep {
		return s
	}
	return s[len(s)-keep:]
}

func joinArgv(argv []string) string {
	out := argv[0]
	for _, a := range argv[1:] {
		out += " " + a
	}
	return out
}
