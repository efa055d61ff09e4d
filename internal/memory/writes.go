package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/homer-run/homer/internal/types"
)

// RecordVerification persists one verification attempt: an episode row, the
// error/file relations it implies, the rolling task_runs row, a per-error
// solutions row, and touch counts on every file involved.
func (s *Store) RecordVerification(agentID, taskKey string, result *types.VerificationResult, filesTouched []string, toolID string, attempt int) error {
	if s == nil || s.isClosed() {
		return nil
	}

	checks := make([]CheckResultRow, 0, len(result.Results))
	var errs []CheckError
	for _, r := range result.Results {
		checks = append(checks, CheckResultRow{Name: r.Name, Passed: r.Passed, ErrorKey: r.ErrorKey})
		if !r.Passed && r.ErrorKey != "" {
			errs = append(errs, CheckError{Check: r.Name, ErrorKey: r.ErrorKey, Output: truncate(r.TruncatedOutput, 500)})
		}
	}

	return s.withTx(func(tx *sql.Tx) error {
		checksJSON, _ := json.Marshal(checks)
		filesJSON, _ := json.Marshal(filesTouched)
		if _, err := tx.Exec(
			`INSERT INTO verification_episodes (task_key, agent_id, attempt, passed, checks, files)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			taskKey, agentID, attempt, result.Passed, string(checksJSON), string(filesJSON),
		); err != nil {
			return fmt.Errorf("insert verification episode: %w", err)
		}

		for _, e := range errs {
			for _, f := range filesTouched {
				if err := upsertErrorFileRelation(tx, e.ErrorKey, f); err != nil {
					return err
				}
			}
		}

		outcome := OutcomeRunning
		if result.Passed {
			outcome = OutcomePassed
		}
		errsJSON, _ := json.Marshal(errs)
		var existingID int64
		err := tx.QueryRow(
			`SELECT id FROM task_runs WHERE agent_id = ? AND task_key = ? ORDER BY created_at DESC LIMIT 1`,
			agentID, taskKey,
		).Scan(&existingID)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec(
				`INSERT INTO task_runs (task_key, agent_id, tool_id, outcome, attempts, files_touched, errors)
				 VALUES (?, ?, ?, ?, 1, ?, ?)`,
				taskKey, agentID, toolID, string(outcome), string(filesJSON), string(errsJSON),
			); err != nil {
				return fmt.Errorf("insert task run: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup task run: %w", err)
		default:
			if _, err := tx.Exec(
				`UPDATE task_runs SET attempts = attempts + 1, outcome = ?, files_touched = ?, errors = ? WHERE id = ?`,
				string(outcome), string(filesJSON), string(errsJSON), existingID,
			); err != nil {
				return fmt.Errorf("update task run: %w", err)
			}
		}

		for _, e := range errs {
			if err := upsertFailingSolution(tx, e, taskKey); err != nil {
				return err
			}
		}

		var firstFailing string
		if len(errs) > 0 {
			firstFailing = errs[0].Output
		}
		for _, f := range filesTouched {
			if err := touchFile(tx, f, firstFailing); err != nil {
				return err
			}
		}

		return nil
	})
}

// RecordSuccess marks the task as passed: resolves the solutions it took to
// get there, rewards any rules that were injected, and updates cochange
// links between the files touched.
func (s *Store) RecordSuccess(agentID, taskKey string, filesTouched []string, verifyAttempts int, injectedRuleIDs []int64) error {
	if s == nil || s.isClosed() {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		var runID int64
		var errsJSON string
		err := tx.QueryRow(
			`SELECT id, errors FROM task_runs WHERE agent_id = ? AND task_key = ? ORDER BY created_at DESC LIMIT 1`,
			agentID, taskKey,
		).Scan(&runID, &errsJSON)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("lookup task run: %w", err)
		}

		filesJSON, _ := json.Marshal(filesTouched)
		if err == sql.ErrNoRows {
			if _, err := tx.Exec(
				`INSERT INTO task_runs (task_key, agent_id, outcome, attempts, files_touched)
				 VALUES (?, ?, 'passed', ?, ?)`,
				taskKey, agentID, verifyAttempts, string(filesJSON),
			); err != nil {
				return fmt.Errorf("insert passed task run: %w", err)
			}
		} else {
			if _, err := tx.Exec(
				`UPDATE task_runs SET outcome = 'passed', attempts = ? WHERE id = ?`,
				verifyAttempts, runID,
			); err != nil {
				return fmt.Errorf("update passed task run: %w", err)
			}
		}

		var errs []CheckError
		_ = json.Unmarshal([]byte(errsJSON), &errs)
		for _, e := range errs {
			if err := resolveSolution(tx, e.ErrorKey, filesTouched, verifyAttempts); err != nil {
				return err
			}
		}
		for _, f := range filesTouched {
			if err := stampLastFix(tx, f); err != nil {
				return err
			}
		}

		for _, id := range injectedRuleIDs {
			if err := rewardRule(tx, id); err != nil {
				return err
			}
		}

		if err := updateCochanges(tx, taskKey, filesTouched); err != nil {
			return err
		}

		if verifyAttempts > 1 && len(filesTouched) > 0 {
			rule := fmt.Sprintf("took %d verify attempts to pass; review before reusing this approach", verifyAttempts)
			if err := upsertRule(tx, "file:"+filesTouched[0], rule, "success-reflection"); err != nil {
				return err
			}
		}

		return nil
	})
}

// RecordFailure records a terminal (non-passed) outcome for the task: a
// task_runs row, downgraded confidence on implicated solutions, penalized
// rules, and (on permanent failure) derived rules from the latest errors.
func (s *Store) RecordFailure(agentID, taskKey, reason string, outcome Outcome, filesTouched []string, injectedRuleIDs []int64) error {
	if s == nil || s.isClosed() {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		filesJSON, _ := json.Marshal(filesTouched)
		notes := fmt.Sprintf("terminal outcome %s: %s", outcome, reason)

		var runID int64
		err := tx.QueryRow(
			`SELECT id FROM task_runs WHERE agent_id = ? AND task_key = ? ORDER BY created_at DESC LIMIT 1`,
			agentID, taskKey,
		).Scan(&runID)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec(
				`INSERT INTO task_runs (task_key, agent_id, outcome, files_touched, notes) VALUES (?, ?, ?, ?, ?)`,
				taskKey, agentID, string(outcome), string(filesJSON), notes,
			); err != nil {
				return fmt.Errorf("insert failed task run: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup task run: %w", err)
		default:
			if _, err := tx.Exec(
				`UPDATE task_runs SET outcome = ?, files_touched = ?, notes = ? WHERE id = ?`,
				string(outcome), string(filesJSON), notes, runID,
			); err != nil {
				return fmt.Errorf("update failed task run: %w", err)
			}
		}

		for _, f := range filesTouched {
			if err := penalizeSolutionsForFile(tx, f); err != nil {
				return err
			}
		}

		for _, id := range injectedRuleIDs {
			if err := penalizeRule(tx, id); err != nil {
				return err
			}
		}

		if err := pruneWeakRules(tx); err != nil {
			return err
		}

		if outcome == OutcomeFailed {
			var errsJSON string
			err := tx.QueryRow(
				`SELECT errors FROM task_runs WHERE agent_id = ? AND task_key = ? ORDER BY created_at DESC LIMIT 1`,
				agentID, taskKey,
			).Scan(&errsJSON)
			if err == nil {
				var errs []CheckError
				_ = json.Unmarshal([]byte(errsJSON), &errs)
				for i, e := range errs {
					if i >= 2 {
						break
					}
					if len(filesTouched) > 0 {
						if err := upsertRule(tx, "file:"+filesTouched[0], "repeatedly failed on "+e.ErrorKey, "failure-reflection"); err != nil {
							return err
						}
					}
					if err := upsertRule(tx, "check:"+e.Check, "repeatedly failed: "+e.ErrorKey, "failure-reflection"); err != nil {
						return err
					}
				}
			}
		}

		return nil
	})
}

// RecordCompaction persists what a ring buffer trim discarded: the files it
// last mentioned get a touch and the trimmed error lines as their last_error,
// and the sampled approach note (if any) becomes a task-scoped rule so a
// rerouted or retried agent still sees what the discarded output was doing.
func (s *Store) RecordCompaction(agentID, taskKey string, filePaths, errs []string, approachNote string) error {
	if s == nil || s.isClosed() {
		return nil
	}

	lastError := truncate(strings.Join(errs, "; "), 500)

	return s.withTx(func(tx *sql.Tx) error {
		for _, f := range filePaths {
			if err := touchFile(tx, f, lastError); err != nil {
				return err
			}
		}

		if approachNote != "" {
			rule := "mid-task context trim discarded: " + truncate(approachNote, 300)
			if err := upsertRule(tx, "task:"+taskKey, rule, "context-compaction"); err != nil {
				return err
			}
		}

		return nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func upsertErrorFileRelation(tx *sql.Tx, errorKey, filePath string) error {
	if errorKey == "" || filePath == "" {
		return nil
	}
	_, err := tx.Exec(
		`INSERT INTO error_file_relations (error_key, file_path, relation, occurrences)
		 VALUES (?, ?, 'caused_by', 1)
		 ON CONFLICT(error_key, file_path, relation) DO UPDATE SET occurrences = occurrences + 1`,
		errorKey, filePath,
	)
	if err != nil {
		return fmt.Errorf("upsert error_file_relations: %w", err)
	}
	return nil
}

func upsertFailingSolution(tx *sql.Tx, e CheckError, taskKey string) error {
	var id int64
	var attempts int
	err := tx.QueryRow(`SELECT id, attempts FROM solutions WHERE error_key = ? AND task_key = ? AND resolved = 0`, e.ErrorKey, taskKey).Scan(&id, &attempts)
	switch {
	case err == sql.ErrNoRows:
		_, err := tx.Exec(
			`INSERT INTO solutions (error_key, error_text, confidence, attempts, task_key) VALUES (?, ?, 0.5, 1, ?)`,
			e.ErrorKey, truncate(e.Output, 500), taskKey,
		)
		if err != nil {
			return fmt.Errorf("insert solution: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lookup solution: %w", err)
	default:
		_, err := tx.Exec(`UPDATE solutions SET attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("update solution attempts: %w", err)
		}
	}
	return nil
}

func touchFile(tx *sql.Tx, path, lastError string) error {
	query := `INSERT INTO file_knowledge (path, touch_count, last_error)
	          VALUES (?, 1, ?)
	          ON CONFLICT(path) DO UPDATE SET
	            touch_count = touch_count + 1,
	            updated_at = CURRENT_TIMESTAMP`
	if lastError != "" {
		query = `INSERT INTO file_knowledge (path, touch_count, last_error)
		          VALUES (?, 1, ?)
		          ON CONFLICT(path) DO UPDATE SET
		            touch_count = touch_count + 1,
		            last_error = excluded.last_error,
		            updated_at = CURRENT_TIMESTAMP`
	}
	if _, err := tx.Exec(query, path, nullString(lastError)); err != nil {
		return fmt.Errorf("touch file_knowledge: %w", err)
	}
	return nil
}

func stampLastFix(tx *sql.Tx, path string) error {
	_, err := tx.Exec(
		`INSERT INTO file_knowledge (path, last_fix) VALUES (?, CURRENT_TIMESTAMP)
		 ON CONFLICT(path) DO UPDATE SET last_fix = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP`,
		path,
	)
	if err != nil {
		return fmt.Errorf("stamp last_fix: %w", err)
	}
	return nil
}

func resolveSolution(tx *sql.Tx, errorKey string, fixFiles []string, verifyAttempts int) error {
	rows, err := tx.Query(`SELECT id, confidence, fix_summary FROM solutions WHERE error_key = ? AND resolved = 0`, errorKey)
	if err != nil {
		return fmt.Errorf("query solutions to resolve: %w", err)
	}
	type row struct {
		id         int64
		confidence float64
		summary    sql.NullString
	}
	var matches []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.confidence, &r.summary); err != nil {
			rows.Close()
			return fmt.Errorf("scan solution to resolve: %w", err)
		}
		matches = append(matches, r)
	}
	rows.Close()

	fixFilesJSON, _ := json.Marshal(fixFiles)
	for _, r := range matches {
		newConfidence := emaUpdate(r.confidence, 1)
		summary := r.summary.String
		if !r.summary.Valid || r.summary.String == "" {
			summary = fmt.Sprintf("resolved after %d verify attempt(s), touching %s", verifyAttempts, strings.Join(fixFiles, ", "))
		}
		_, err := tx.Exec(
			`UPDATE solutions SET resolved = 1, fix_files = ?, confidence = ?, fix_summary = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			string(fixFilesJSON), newConfidence, summary, r.id,
		)
		if err != nil {
			return fmt.Errorf("resolve solution: %w", err)
		}
	}
	return nil
}

func penalizeSolutionsForFile(tx *sql.Tx, path string) error {
	rows, err := tx.Query(`SELECT id, confidence FROM solutions WHERE resolved = 0 AND error_key LIKE ?`, "%"+path+"%")
	if err != nil {
		return fmt.Errorf("query solutions to penalize: %w", err)
	}
	type row struct {
		id         int64
		confidence float64
	}
	var matches []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.confidence); err != nil {
			rows.Close()
			return fmt.Errorf("scan solution to penalize: %w", err)
		}
		matches = append(matches, r)
	}
	rows.Close()

	for _, r := range matches {
		newConfidence := emaUpdate(r.confidence, -1)
		if _, err := tx.Exec(`UPDATE solutions SET confidence = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, newConfidence, r.id); err != nil {
			return fmt.Errorf("penalize solution: %w", err)
		}
	}
	return nil
}

func rewardRule(tx *sql.Tx, id int64) error {
	return updateRuleCounters(tx, id, true)
}

func penalizeRule(tx *sql.Tx, id int64) error {
	return updateRuleCounters(tx, id, false)
}

func updateRuleCounters(tx *sql.Tx, id int64, hit bool) error {
	var hits, misses int
	err := tx.QueryRow(`SELECT hits, misses FROM repo_rules WHERE id = ?`, id).Scan(&hits, &misses)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup rule counters: %w", err)
	}
	if hit {
		hits++
	} else {
		misses++
	}
	confidence := laplaceConfidence(hits, misses)
	_, err = tx.Exec(
		`UPDATE repo_rules SET hits = ?, misses = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		hits, misses, confidence, id,
	)
	if err != nil {
		return fmt.Errorf("update rule counters: %w", err)
	}
	return nil
}

func pruneWeakRules(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM repo_rules WHERE confidence <= ? AND misses > ?`, rulePruneConfidence, rulePruneMisses)
	if err != nil {
		return fmt.Errorf("prune weak rules: %w", err)
	}
	return nil
}

func upsertRule(tx *sql.Tx, scope, rule, source string) error {
	_, err := tx.Exec(
		`INSERT INTO repo_rules (scope, rule, source, confidence) VALUES (?, ?, ?, 0.5)
		 ON CONFLICT(scope, rule) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		scope, rule, source,
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

func updateCochanges(tx *sql.Tx, excludeTaskKey string, filesTouched []string) error {
	if len(filesTouched) < 2 {
		return nil
	}
	rows, err := tx.Query(`SELECT files_touched FROM task_runs WHERE outcome = 'passed'`)
	if err != nil {
		return fmt.Errorf("scan historical runs for cochange: %w", err)
	}
	var history [][]string
	for rows.Next() {
		var filesJSON string
		if err := rows.Scan(&filesJSON); err != nil {
			rows.Close()
			return fmt.Errorf("scan run files: %w", err)
		}
		var files []string
		_ = json.Unmarshal([]byte(filesJSON), &files)
		history = append(history, files)
	}
	rows.Close()

	for i := 0; i < len(filesTouched); i++ {
		for j := i + 1; j < len(filesTouched); j++ {
			a, b := filesTouched[i], filesTouched[j]
			count := 0
			for _, files := range history {
				if containsBoth(files, a, b) {
					count++
				}
			}
			if count >= cochangeMinRuns {
				if err := addCochange(tx, a, b); err != nil {
					return err
				}
				if err := addCochange(tx, b, a); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func containsBoth(files []string, a, b string) bool {
	hasA, hasB := false, false
	for _, f := range files {
		if f == a {
			hasA = true
		}
		if f == b {
			hasB = true
		}
	}
	return hasA && hasB
}

func addCochange(tx *sql.Tx, path, other string) error {
	var cochangesJSON string
	err := tx.QueryRow(`SELECT cochanges FROM file_knowledge WHERE path = ?`, path).Scan(&cochangesJSON)
	var cochanges []string
	if err == nil {
		_ = json.Unmarshal([]byte(cochangesJSON), &cochanges)
	}
	for _, c := range cochanges {
		if c == other {
			return nil
		}
	}
	cochanges = append(cochanges, other)
	if len(cochanges) > maxCochanges {
		cochanges = cochanges[len(cochanges)-maxCochanges:]
	}
	newJSON, _ := json.Marshal(cochanges)
	_, err = tx.Exec(
		`INSERT INTO file_knowledge (path, cochanges) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET cochanges = excluded.cochanges, updated_at = CURRENT_TIMESTAMP`,
		path, string(newJSON),
	)
	if err != nil {
		return fmt.Errorf("update cochanges: %w", err)
	}
	return nil
}
