package memory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/homer-run/homer/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func passingResult() *types.VerificationResult {
	return &types.VerificationResult{
		Passed: true,
		Results: []types.CheckResult{
			{Name: "typecheck", Command: "tsc --noEmit", Passed: true},
		},
	}
}

func failingResult(errorKey, output string) *types.VerificationResult {
	return &types.VerificationResult{
		Passed: false,
		Results: []types.CheckResult{
			{Name: "typecheck", Command: "tsc --noEmit", Passed: false, TruncatedOutput: output, ErrorKey: errorKey},
		},
	}
}

func TestRecordVerification_CreatesTaskRunAndSolution(t *testing.T) {
	store := newTestStore(t)

	err := store.RecordVerification("agent-1", "story:US-001", failingResult("typecheck:TS2322:lib/auth.js", "type mismatch"), []string{"lib/auth.js"}, "claude", 1)
	if err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}

	var attempts int
	var outcome string
	err = store.db.QueryRow(`SELECT attempts, outcome FROM task_runs WHERE agent_id = ? AND task_key = ?`, "agent-1", "story:US-001").Scan(&attempts, &outcome)
	if err != nil {
		t.Fatalf("query task_runs: %v", err)
	}
	if attempts != 1 || outcome != "running" {
		t.Errorf("task_runs = (attempts=%d, outcome=%s), want (1, running)", attempts, outcome)
	}

	var solutionAttempts int
	err = store.db.QueryRow(`SELECT attempts FROM solutions WHERE error_key = ?`, "typecheck:TS2322:lib/auth.js").Scan(&solutionAttempts)
	if err != nil {
		t.Fatalf("query solutions: %v", err)
	}
	if solutionAttempts != 1 {
		t.Errorf("solution attempts = %d, want 1", solutionAttempts)
	}

	// Second verification attempt for the same task increments attempts.
	err = store.RecordVerification("agent-1", "story:US-001", passingResult(), []string{"lib/auth.js"}, "claude", 2)
	if err != nil {
		t.Fatalf("second RecordVerification failed: %v", err)
	}
	err = store.db.QueryRow(`SELECT attempts FROM task_runs WHERE agent_id = ? AND task_key = ?`, "agent-1", "story:US-001").Scan(&attempts)
	if err != nil {
		t.Fatalf("requery task_runs: %v", err)
	}
	if attempts != 2 {
		t.Errorf("task_runs.attempts = %d, want 2", attempts)
	}
}

func TestRecordSuccess_ResolvesSolutionWithEMAStep(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordVerification("agent-1", "story:US-001", failingResult("typecheck:TS2322:lib/auth.js", "type mismatch"), []string{"lib/auth.js"}, "claude", 1); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	if err := store.RecordSuccess("agent-1", "story:US-001", []string{"lib/auth.js"}, 2, nil); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	var resolved int
	var confidence float64
	err := store.db.QueryRow(`SELECT resolved, confidence FROM solutions WHERE error_key = ?`, "typecheck:TS2322:lib/auth.js").Scan(&resolved, &confidence)
	if err != nil {
		t.Fatalf("query solutions: %v", err)
	}
	if resolved != 1 {
		t.Error("expected solution to be resolved")
	}
	if diff := confidence - 0.65; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want ~0.65", confidence)
	}

	var outcome string
	err = store.db.QueryRow(`SELECT outcome FROM task_runs WHERE agent_id = ? AND task_key = ?`, "agent-1", "story:US-001").Scan(&outcome)
	if err != nil {
		t.Fatalf("query task_runs: %v", err)
	}
	if outcome != "passed" {
		t.Errorf("task_runs.outcome = %s, want passed", outcome)
	}
}

func TestRecordFailure_PenalizesSolutionAndDerivesRules(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordVerification("agent-1", "story:US-001", failingResult("typecheck:TS2322:lib/auth.js", "type mismatch"), []string{"lib/auth.js"}, "claude", 1); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	if err := store.RecordFailure("agent-1", "story:US-001", "exceeded reroute budget", OutcomeFailed, []string{"lib/auth.js"}, nil); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	var confidence float64
	err := store.db.QueryRow(`SELECT confidence FROM solutions WHERE error_key = ?`, "typecheck:TS2322:lib/auth.js").Scan(&confidence)
	if err != nil {
		t.Fatalf("query solutions: %v", err)
	}
	if diff := confidence - 0.05; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want ~0.05", confidence)
	}

	var ruleCount int
	err = store.db.QueryRow(`SELECT COUNT(*) FROM repo_rules WHERE scope = ?`, "file:lib/auth.js").Scan(&ruleCount)
	if err != nil {
		t.Fatalf("query repo_rules: %v", err)
	}
	if ruleCount == 0 {
		t.Error("expected a derived file-scoped rule after permanent failure")
	}
}

func TestRecordCompaction_TouchesFilesAndDerivesRule(t *testing.T) {
	store := newTestStore(t)

	err := store.RecordCompaction("agent-1", "story:US-001",
		[]string{"lib/auth.js"}, []string{"TypeError: cannot read x"}, "refactoring auth middleware to drop the legacy session cookie")
	if err != nil {
		t.Fatalf("RecordCompaction failed: %v", err)
	}

	var touchCount int
	var lastError string
	if err := store.db.QueryRow(`SELECT touch_count, last_error FROM file_knowledge WHERE path = ?`, "lib/auth.js").Scan(&touchCount, &lastError); err != nil {
		t.Fatalf("query file_knowledge: %v", err)
	}
	if touchCount != 1 {
		t.Errorf("touch_count = %d, want 1", touchCount)
	}
	if !strings.Contains(lastError, "TypeError") {
		t.Errorf("last_error = %q, want it to mention the trimmed error", lastError)
	}

	var ruleCount int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM repo_rules WHERE scope = ?`, "task:story:US-001").Scan(&ruleCount); err != nil {
		t.Fatalf("query repo_rules: %v", err)
	}
	if ruleCount != 1 {
		t.Errorf("expected one task-scoped rule from the approach note, got %d", ruleCount)
	}
}

func TestBuildTaskMemory_IncludesPreviousAttemptsAndErrors(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordVerification("agent-1", "story:US-001", failingResult("typecheck:TS2322:lib/auth.js", "type mismatch"), []string{"lib/auth.js"}, "claude", 1); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}

	memo := store.BuildTaskMemory("story:US-001", []string{"lib/auth.js"})
	if !strings.Contains(memo, "PREVIOUS ATTEMPTS ON THIS TASK") {
		t.Error("expected previous-attempts section")
	}
	if !strings.Contains(memo, "typecheck:TS2322:lib/auth.js") {
		t.Error("expected known-errors section to mention the error key")
	}
}

func TestGetLastInjectedRuleIds_ConsumedOnce(t *testing.T) {
	store := newTestStore(t)

	store.setLastInjectedRuleIds([]int64{1, 2, 3})
	ids := store.GetLastInjectedRuleIds()
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	again := store.GetLastInjectedRuleIds()
	if len(again) != 0 {
		t.Errorf("expected ids to be consumed exactly once, got %d on second read", len(again))
	}
}

func TestConsolidate_PrunesWeakRowsAndTruncatesRuns(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.db.Exec(`INSERT INTO solutions (error_key, confidence, resolved, task_key) VALUES (?, 0.05, 0, ?)`, "weak:error", "story:US-001"); err != nil {
		t.Fatalf("seed weak solution: %v", err)
	}
	if _, err := store.db.Exec(`INSERT INTO repo_rules (scope, rule, confidence) VALUES (?, ?, 0.01)`, "repo", "weak rule"); err != nil {
		t.Fatalf("seed weak rule: %v", err)
	}

	if err := store.Consolidate(); err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM solutions WHERE error_key = ?`, "weak:error").Scan(&count); err != nil {
		t.Fatalf("query solutions: %v", err)
	}
	if count != 0 {
		t.Error("expected weak unresolved solution to be pruned")
	}

	if err := store.db.QueryRow(`SELECT COUNT(*) FROM repo_rules WHERE rule = ?`, "weak rule").Scan(&count); err != nil {
		t.Fatalf("query repo_rules: %v", err)
	}
	if count != 0 {
		t.Error("expected weak rule to be pruned")
	}
}

func TestStore_ClosedIsNoOp(t *testing.T) {
	store := newTestStore(t)
	store.Close()

	if err := store.RecordVerification("a", "t", passingResult(), nil, "claude", 1); err != nil {
		t.Errorf("RecordVerification on closed store should be a no-op, got error: %v", err)
	}
	if memo := store.BuildTaskMemory("t", nil); memo != "" {
		t.Errorf("BuildTaskMemory on closed store should return empty string, got %q", memo)
	}
}
