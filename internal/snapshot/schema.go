// Package snapshot persists build outputs in SQLite: the listing page, its
// next-page cursor and the pre-rendered post details.
package snapshot

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS builds (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	built_at     DATETIME NOT NULL,
	next_page    TEXT NOT NULL DEFAULT '',
	listing_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS posts (
	build_id    INTEGER NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
	slug        TEXT NOT NULL,
	position    INTEGER NOT NULL,
	detail_json TEXT NOT NULL,
	checksum    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (build_id, slug)
);

CREATE INDEX IF NOT EXISTS idx_posts_build ON posts(build_id, position);
`

// DB wraps a sql.DB with snapshot operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("snapshot: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("snapshot: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("snapshot: apply schema: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
