package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite connection to the cache database. It is safe to open
// multiple DBs against the same file; WAL journaling and the busy timeout
// serialize conflicting writers across connections.
type DB struct {
	*sql.DB
	hasFTS bool
}

// Open creates (if needed) and opens the cache database at path, runs
// migrations, and probes the FTS5 search index. On a database that has
// message rows but a stale or missing index, the index is rebuilt before
// the store serves queries.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{DB: sqlDB}
	if _, err := db.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	db.hasFTS = db.initFTS()
	return db, nil
}

// HasFTS reports whether the accelerated full-text search path is in use.
// When false, SearchMessages falls back to substring scans.
func (db *DB) HasFTS() bool {
	return db.hasFTS
}

// initFTS creates the FTS5 index and its sync triggers, then repairs the
// index if its row count has diverged from the base table (e.g. rows were
// written by a build without FTS5). Returns false when FTS5 is not
// compiled into the sqlite build.
func (db *DB) initFTS() bool {
	_, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			text,
			content='messages',
			content_rowid='rowid'
		)`)
	if err != nil {
		return false
	}
	_, err = db.Exec(`
		CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, text) VALUES (new.rowid, new.text);
		END;
		CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
		END;
		CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
			INSERT INTO messages_fts(rowid, text) VALUES (new.rowid, new.text);
		END`)
	if err != nil {
		return false
	}

	var base, indexed int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&base); err != nil {
		return false
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages_fts`).Scan(&indexed); err != nil {
		return false
	}
	if base != indexed {
		if _, err := db.Exec(`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`); err != nil {
			return false
		}
	}
	return true
}
