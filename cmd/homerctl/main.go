package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/homer-run/homer/internal/dbdriver"
	"github.com/homer-run/homer/internal/instance"
	"github.com/homer-run/homer/internal/memory"
)

func main() {
	dbPath := flag.String("db", "", "path to the repo's memory SQLite database (default: ~/.homer/memory/<repo-slug>.db)")
	repo := flag.String("repo", ".", "repo path used to derive the default -db location")
	action := flag.String("action", "", "action to perform: rules, solutions, runs, episodes, session, consolidate")
	taskKey := flag.String("task", "", "task key filter for solutions/runs/episodes")
	sessionID := flag.String("session", "", "session id for the session action")
	jsonOutput := flag.Bool("json", false, "output as JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: homerctl -action <action> [-db path] [-task key] [-session id] [-json]\n")
		fmt.Fprintf(os.Stderr, "Actions: rules, solutions, runs, episodes, session, consolidate\n")
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to determine home directory: %v\n", err)
			os.Exit(1)
		}
		repoPath, err := filepath.Abs(*repo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve repo path: %v\n", err)
			os.Exit(1)
		}
		slug := instance.RepoSlug(repoPath)
		path = filepath.Join(homeDir, ".homer", "memory", slug+".db")
	}

	db, err := sql.Open(dbdriver.Name, fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var result interface{}
	switch *action {
	case "rules":
		result, err = listRules(db)
	case "solutions":
		result, err = listSolutions(db, *taskKey)
	case "runs":
		result, err = listRuns(db, *taskKey)
	case "episodes":
		result, err = listEpisodes(db, *taskKey)
	case "session":
		if *sessionID == "" {
			fmt.Fprintf(os.Stderr, "-session is required for the session action\n")
			os.Exit(1)
		}
		result, err = getSession(db, *sessionID)
	case "consolidate":
		err = runConsolidate(path)
		if err == nil {
			result = map[string]interface{}{"success": true}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *action, err)
		os.Exit(1)
	}

	if *jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(result)
		return
	}
	printHuman(*action, result)
}

type ruleRow struct {
	ID         int64   `json:"id"`
	Scope      string  `json:"scope"`
	Rule       string  `json:"rule"`
	Confidence float64 `json:"confidence"`
	Hits       int     `json:"hits"`
	Misses     int     `json:"misses"`
}

func listRules(db *sql.DB) ([]ruleRow, error) {
	rows, err := db.Query(`SELECT id, scope, rule, confidence, hits, misses FROM repo_rules ORDER BY confidence DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ruleRow
	for rows.Next() {
		var r ruleRow
		if err := rows.Scan(&r.ID, &r.Scope, &r.Rule, &r.Confidence, &r.Hits, &r.Misses); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type solutionRow struct {
	ID         int64   `json:"id"`
	ErrorKey   string  `json:"error_key"`
	FixSummary string  `json:"fix_summary"`
	Confidence float64 `json:"confidence"`
	Attempts   int     `json:"attempts"`
	Resolved   bool    `json:"resolved"`
}

func listSolutions(db *sql.DB, taskKey string) ([]solutionRow, error) {
	query := `SELECT id, error_key, fix_summary, confidence, attempts, resolved FROM solutions`
	args := []interface{}{}
	if taskKey != "" {
		query += ` WHERE task_key = ?`
		args = append(args, taskKey)
	}
	query += ` ORDER BY confidence DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []solutionRow
	for rows.Next() {
		var r solutionRow
		var fixSummary sql.NullString
		var resolved int
		if err := rows.Scan(&r.ID, &r.ErrorKey, &fixSummary, &r.Confidence, &r.Attempts, &resolved); err != nil {
			return nil, err
		}
		r.FixSummary = fixSummary.String
		r.Resolved = resolved != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

type runRow struct {
	ID         int64  `json:"id"`
	TaskKey    string `json:"task_key"`
	AgentID    string `json:"agent_id"`
	ToolID     string `json:"tool_id"`
	Outcome    string `json:"outcome"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"duration_ms"`
}

func listRuns(db *sql.DB, taskKey string) ([]runRow, error) {
	query := `SELECT id, task_key, agent_id, tool_id, outcome, attempts, duration_ms FROM task_runs`
	args := []interface{}{}
	if taskKey != "" {
		query += ` WHERE task_key = ?`
		args = append(args, taskKey)
	}
	query += ` ORDER BY id DESC LIMIT 100`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []runRow
	for rows.Next() {
		var r runRow
		if err := rows.Scan(&r.ID, &r.TaskKey, &r.AgentID, &r.ToolID, &r.Outcome, &r.Attempts, &r.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type episodeRow struct {
	ID      int64 `json:"id"`
	Attempt int   `json:"attempt"`
	Passed  bool  `json:"passed"`
}

func listEpisodes(db *sql.DB, taskKey string) ([]episodeRow, error) {
	query := `SELECT id, attempt, passed FROM verification_episodes`
	args := []interface{}{}
	if taskKey != "" {
		query += ` WHERE task_key = ?`
		args = append(args, taskKey)
	}
	query += ` ORDER BY id DESC LIMIT 100`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []episodeRow
	for rows.Next() {
		var r episodeRow
		var passed int
		if err := rows.Scan(&r.ID, &r.Attempt, &passed); err != nil {
			return nil, err
		}
		r.Passed = passed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func getSession(db *sql.DB, sessionID string) (map[string]interface{}, error) {
	var repoID, payload string
	var savedAt string
	err := db.QueryRow(`SELECT repo_id, saved_at, payload FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&repoID, &savedAt, &payload)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session_id": sessionID,
		"repo_id":    repoID,
		"saved_at":   savedAt,
		"payload":    json.RawMessage(payload),
	}, nil
}

func runConsolidate(path string) error {
	store, err := memory.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Consolidate()
}

func printHuman(action string, result interface{}) {
	switch action {
	case "consolidate":
		fmt.Println("consolidation complete")
	default:
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	}
}
