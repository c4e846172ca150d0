package state

import (
	"fmt"
	"time"
)

// CachedSession is one row of the session-cache snapshot. The snapshot is a
// flat list; workspace grouping is a view-time projection and never stored.
type CachedSession struct {
	ID            string
	CustomTitle   string
	WorkspaceName string
	WorkspacePath string
	LastModified  time.Time
	FilePath      string
	StorageRoot   string
	MessageCount  int
}

// ReplaceSessionSnapshot atomically replaces the snapshot with the outcome of
// a successful scan.
func (d *DB) ReplaceSessionSnapshot(sessions []CachedSession) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM session_cache"); err != nil {
		return fmt.Errorf("clear session cache: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO session_cache
			(id, custom_title, workspace_name, workspace_path, last_modified, file_path, storage_root, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range sessions {
		_, err := stmt.Exec(
			s.ID, s.CustomTitle, s.WorkspaceName, s.WorkspacePath,
			s.LastModified.UnixMilli(), s.FilePath, s.StorageRoot, s.MessageCount,
		)
		if err != nil {
			return fmt.Errorf("insert snapshot row %s: %w", s.ID, err)
		}
	}

	return tx.Commit()
}

// LoadSessionSnapshot returns the persisted snapshot of the last successful
// scan, or an empty slice when none exists yet.
func (d *DB) LoadSessionSnapshot() ([]CachedSession, error) {
	rows, err := d.sql.Query(`
		SELECT id, custom_title, workspace_name, workspace_path, last_modified, file_path, storage_root, message_count
		FROM session_cache
	`)
	if err != nil {
		return nil, fmt.Errorf("query session cache: %w", err)
	}
	defer rows.Close()

	var sessions []CachedSession
	for rows.Next() {
		var s CachedSession
		var modifiedMs int64
		err := rows.Scan(
			&s.ID, &s.CustomTitle, &s.WorkspaceName, &s.WorkspacePath,
			&modifiedMs, &s.FilePath, &s.StorageRoot, &s.MessageCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session cache row: %w", err)
		}
		s.LastModified = time.UnixMilli(modifiedMs)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
