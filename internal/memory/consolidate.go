package memory

import (
	"database/sql"
	"fmt"
)

// Consolidate prunes weak, unresolved solutions and rules, and truncates
// task_runs to the most recent maxTaskRuns rows globally.
func (s *Store) Consolidate() error {
	if s == nil || s.isClosed() {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM solutions WHERE confidence < ? AND resolved = 0`, solutionPruneConfidence); err != nil {
			return fmt.Errorf("prune weak solutions: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM repo_rules WHERE confidence <= ?`, rulePruneConfidence); err != nil {
			return fmt.Errorf("prune weak rules: %w", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM task_runs WHERE id NOT IN (
				SELECT id FROM task_runs ORDER BY created_at DESC LIMIT ?
			)`, maxTaskRuns,
		); err != nil {
			return fmt.Errorf("truncate task_runs: %w", err)
		}
		return nil
	})
}
