package memory

import (
	"database/sql"
	"fmt"
)

// StoreRepoFile upserts a file into the passive content cache. The
// orchestrator never calls this itself; it exists for an external
// file-indexing collaborator to populate.
func (s *Store) StoreRepoFile(f *RepoFile) error {
	if s == nil || s.isClosed() {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO repo_files (repo_id, path, file_type, content_hash, content, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(repo_id, path) DO UPDATE SET
		   file_type = excluded.file_type,
		   content_hash = excluded.content_hash,
		   content = excluded.content,
		   updated_at = CURRENT_TIMESTAMP`,
		f.RepoID, f.Path, f.FileType, f.ContentHash, f.Content,
	)
	if err != nil {
		return fmt.Errorf("store repo file: %w", err)
	}
	return nil
}

// GetRepoFile reads one cached file, if a collaborator has populated it.
func (s *Store) GetRepoFile(repoID, path string) (*RepoFile, error) {
	if s == nil || s.isClosed() {
		return nil, sql.ErrNoRows
	}
	var f RepoFile
	err := s.db.QueryRow(
		`SELECT repo_id, path, file_type, content_hash, content, updated_at
		 FROM repo_files WHERE repo_id = ? AND path = ?`,
		repoID, path,
	).Scan(&f.RepoID, &f.Path, &f.FileType, &f.ContentHash, &f.Content, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// SaveSession mirrors the authoritative on-disk session snapshot into SQLite
// for homerctl inspection.
func (s *Store) SaveSession(sessionID, repoID, payload string) error {
	if s == nil || s.isClosed() {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, repo_id, saved_at, payload)
		 VALUES (?, ?, CURRENT_TIMESTAMP, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   repo_id = excluded.repo_id, saved_at = CURRENT_TIMESTAMP, payload = excluded.payload`,
		sessionID, repoID, payload,
	)
	if err != nil {
		return fmt.Errorf("save session mirror: %w", err)
	}
	return nil
}

// GetSession reads the mirrored session snapshot for one session id.
func (s *Store) GetSession(sessionID string) (*SessionRecord, error) {
	if s == nil || s.isClosed() {
		return nil, sql.ErrNoRows
	}
	var rec SessionRecord
	err := s.db.QueryRow(
		`SELECT session_id, repo_id, saved_at, payload FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&rec.SessionID, &rec.RepoID, &rec.SavedAt, &rec.Payload)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
