package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatkeeper/chatkeeper/log"
)

// DB is the durable per-process state store: session-cache snapshot,
// skip-list, and maintenance timestamps. It stands in for an extension-scoped
// key-value store and is not shared across processes.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the state database at path and runs
// pending migrations.
func Open(path string) (*DB, error) {
	if err := ensureDirectory(path); err != nil {
		return nil, err
	}

	// WAL mode and a busy timeout keep the single-writer model responsive
	dsn := path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	// SQLite works best with a single writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	log.Info().Str("path", path).Msg("state database initialized")
	return &DB{sql: sqlDB}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.sql.Close()
}

func ensureDirectory(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	return nil
}
