package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SkipListAdd inserts a session id into the skip-list, expiring at expiresAt.
// Re-adding an existing id refreshes its expiry (idempotent insert).
func (d *DB) SkipListAdd(sessionID string, expiresAt time.Time) error {
	_, err := d.sql.Exec(`
		INSERT INTO skip_list (session_id, added_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			added_at = excluded.added_at,
			expires_at = excluded.expires_at
	`, sessionID, time.Now().UnixMilli(), expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("skip-list add: %w", err)
	}
	return nil
}

// SkipListRemove deletes a session id from the skip-list. Removing an absent
// id is not an error.
func (d *DB) SkipListRemove(sessionID string) error {
	_, err := d.sql.Exec("DELETE FROM skip_list WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("skip-list remove: %w", err)
	}
	return nil
}

// SkipListContains reports whether a session id has an unexpired skip-list
// entry at the given instant.
func (d *DB) SkipListContains(sessionID string, now time.Time) (bool, error) {
	var one int
	err := d.sql.QueryRow(
		"SELECT 1 FROM skip_list WHERE session_id = ? AND expires_at > ?",
		sessionID, now.UnixMilli(),
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("skip-list contains: %w", err)
	}
	return true, nil
}

// SkipListIDs returns the set of unexpired skip-listed session ids.
func (d *DB) SkipListIDs(now time.Time) (map[string]bool, error) {
	rows, err := d.sql.Query("SELECT session_id FROM skip_list WHERE expires_at > ?", now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("skip-list ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("skip-list scan: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// SkipListCleanup prunes expired entries and entries whose session id is no
// longer among the live set, bounding growth from sessions that were later
// permanently deleted.
func (d *DB) SkipListCleanup(live map[string]bool, now time.Time) (int, error) {
	rows, err := d.sql.Query("SELECT session_id, expires_at FROM skip_list")
	if err != nil {
		return 0, fmt.Errorf("skip-list cleanup query: %w", err)
	}

	var stale []string
	nowMs := now.UnixMilli()
	for rows.Next() {
		var id string
		var expiresMs int64
		if err := rows.Scan(&id, &expiresMs); err != nil {
			rows.Close()
			return 0, fmt.Errorf("skip-list cleanup scan: %w", err)
		}
		if expiresMs <= nowMs || !live[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range stale {
		if err := d.SkipListRemove(id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
