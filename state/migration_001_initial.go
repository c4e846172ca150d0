package state

import "database/sql"

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Initial schema - session cache, skip list, maintenance keys",
		Up:          migration001Initial,
	})
}

func migration001Initial(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Snapshot of the last successful scan, used to render listings
	// instantly at startup before a fresh scan completes
	_, err = tx.Exec(`
		CREATE TABLE session_cache (
			id TEXT PRIMARY KEY,
			custom_title TEXT NOT NULL DEFAULT '',
			workspace_name TEXT NOT NULL,
			workspace_path TEXT NOT NULL DEFAULT '',
			last_modified INTEGER NOT NULL,
			file_path TEXT NOT NULL,
			storage_root TEXT NOT NULL,
			message_count INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Session ids temporarily exempt from auto-archive after a restore
	_, err = tx.Exec(`
		CREATE TABLE skip_list (
			session_id TEXT PRIMARY KEY,
			added_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Small KV surface for scheduled-maintenance bookkeeping
	_, err = tx.Exec(`
		CREATE TABLE maintenance (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	return tx.Commit()
}
