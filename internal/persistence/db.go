// Package persistence provides the SQLite-backed sample journal: every
// generated or measured tree sample and every apple snapshot, keyed by
// session.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SchemaVersion is written to the meta table on open.
const SchemaVersion = "1"

// DB wraps a SQLite connection for the sample journal.
type DB struct {
	conn *sqlx.DB
}

// Entry is one journal row.
type Entry struct {
	ID        int64     `json:"id"`
	Session   string    `json:"session"`
	Board     string    `json:"board"`
	Kind      string    `json:"kind"`
	Values    []float64 `json:"values"`
	CreatedAt time.Time `json:"created_at"`
}

type entryRow struct {
	ID         int64  `db:"id"`
	SessionID  string `db:"session_id"`
	Board      string `db:"board"`
	Kind       string `db:"kind"`
	ValuesJSON string `db:"values_json"`
	CreatedAt  int64  `db:"created_at"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer at a time.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := db.SaveMeta(context.Background(), "schema_version", SchemaVersion); err != nil {
		conn.Close()
		return nil, fmt.Errorf("save meta: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		board TEXT NOT NULL,
		kind TEXT NOT NULL,
		values_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_samples_session ON samples(session_id, id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Record appends one journal entry.
func (db *DB) Record(ctx context.Context, session, board, kind string, values []float64) error {
	if values == nil {
		values = []float64{}
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO samples (session_id, board, kind, values_json, created_at) VALUES (?, ?, ?, ?, ?)",
		session, board, kind, string(valuesJSON), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Recent returns the newest entries for a session, newest first.
func (db *DB) Recent(ctx context.Context, session string, limit int) ([]Entry, error) {
	var rows []entryRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT id, session_id, board, kind, values_json, created_at
		 FROM samples WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		session, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		var values []float64
		if err := json.Unmarshal([]byte(r.ValuesJSON), &values); err != nil {
			slog.Warn("skipping corrupt journal row", "id", r.ID, "error", err)
			continue
		}
		entries = append(entries, Entry{
			ID:        r.ID,
			Session:   r.SessionID,
			Board:     r.Board,
			Kind:      r.Kind,
			Values:    values,
			CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		})
	}
	return entries, nil
}

// Forget deletes every entry for a session and returns how many went.
func (db *DB) Forget(ctx context.Context, session string) (int64, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM samples WHERE session_id = ?", session)
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. ok is false if the key is absent.
func (db *DB) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.conn.GetContext(ctx, &value, "SELECT value FROM meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
