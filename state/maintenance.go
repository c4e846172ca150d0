package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Maintenance bookkeeping keys
const (
	KeyLastAutoArchive = "last_auto_archive"
	KeyLastAutoPurge   = "last_auto_purge"
)

// SetMaintenanceTime records when a scheduled maintenance job last ran.
func (d *DB) SetMaintenanceTime(key string, t time.Time) error {
	_, err := d.sql.Exec(`
		INSERT INTO maintenance (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, strconv.FormatInt(t.UnixMilli(), 10), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set maintenance time: %w", err)
	}
	return nil
}

// GetMaintenanceTime returns the recorded timestamp for key, or the zero time
// when the job has never run.
func (d *DB) GetMaintenanceTime(key string) (time.Time, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM maintenance WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get maintenance time: %w", err)
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse maintenance time: %w", err)
	}
	return time.UnixMilli(ms), nil
}
