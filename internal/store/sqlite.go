package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - entries and stale_marks tables
const currentSchemaVersion = 1

// SQLiteStore keeps entries in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens or creates the database at path. A file that SQLite
// reports as corrupt or not a database is renamed to "<path>.corrupt-<unix>"
// and a fresh database is created in its place.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	s, err := openSQLite(path, logger)
	if err == nil {
		return s, nil
	}
	if !isCorruptDatabase(err) {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	logger.Warn("cache database is corrupt, starting empty",
		"path", path,
		"moved_to", aside,
		"error", err,
	)
	if err := os.Rename(path, aside); err != nil {
		return nil, fmt.Errorf("store: move corrupt database aside: %w", err)
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")

	return openSQLite(path, logger)
}

func openSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func isCorruptDatabase(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrNotADB || se.Code == sqlite3.ErrCorrupt
	}
	return false
}

// Load reads one entry and its stale mark.
func (s *SQLiteStore) Load(ctx context.Context, logical string) (*Entry, error) {
	var (
		e       Entry
		deps    string
		builtAt string
		reason  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT e.logical_path, e.actual_path, e.content_hash, e.algorithm,
		       e.deps, e.size, e.built_at, e.run_id, m.reason
		FROM entries e
		LEFT JOIN stale_marks m ON m.logical_path = e.logical_path
		WHERE e.logical_path = ?
	`, logical).Scan(
		&e.LogicalPath, &e.ActualPath, &e.ContentHash, &e.Algorithm,
		&deps, &e.Size, &builtAt, &e.RunID, &reason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isCorruptDatabase(err) {
			return nil, &CorruptionError{LogicalPath: logical, Location: s.path, Err: err}
		}
		return nil, fmt.Errorf("store: load %s: %w", logical, err)
	}

	if err := decodeRow(&e, deps, builtAt); err != nil {
		return nil, &CorruptionError{LogicalPath: logical, Location: s.path, Err: err}
	}
	if reason.Valid {
		e.Stale = true
		e.StaleReason = reason.String
	}
	return &e, nil
}

// Save upserts the entry and clears its stale mark in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, e Entry) error {
	if e.LogicalPath == "" {
		return errors.New("store: entry has no logical path")
	}
	if e.Deps == nil {
		e.Deps = map[string]string{}
	}
	deps, err := json.Marshal(e.Deps)
	if err != nil {
		return fmt.Errorf("store: encode deps for %s: %w", e.LogicalPath, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save %s: begin tx: %w", e.LogicalPath, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries
		(logical_path, actual_path, content_hash, algorithm, deps, size, built_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(logical_path) DO UPDATE SET
			actual_path = excluded.actual_path,
			content_hash = excluded.content_hash,
			algorithm = excluded.algorithm,
			deps = excluded.deps,
			size = excluded.size,
			built_at = excluded.built_at,
			run_id = excluded.run_id
	`,
		e.LogicalPath,
		e.ActualPath,
		e.ContentHash,
		e.Algorithm,
		string(deps),
		e.Size,
		e.BuiltAt.UTC().Format(time.RFC3339Nano),
		e.RunID,
	)
	if err != nil {
		return fmt.Errorf("store: save %s: upsert: %w", e.LogicalPath, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stale_marks WHERE logical_path = ?`, e.LogicalPath); err != nil {
		return fmt.Errorf("store: save %s: clear stale mark: %w", e.LogicalPath, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save %s: commit: %w", e.LogicalPath, err)
	}
	return nil
}

// MarkStale records a failed attempt.
func (s *SQLiteStore) MarkStale(ctx context.Context, logical, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stale_marks (logical_path, reason, marked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(logical_path) DO UPDATE SET
			reason = excluded.reason,
			marked_at = excluded.marked_at
	`, logical, reason, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: mark %s stale: %w", logical, err)
	}
	return nil
}

// List returns all entries ordered by logical path. Rows that cannot be
// decoded are logged and skipped.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.logical_path, e.actual_path, e.content_hash, e.algorithm,
		       e.deps, e.size, e.built_at, e.run_id, m.reason
		FROM entries e
		LEFT JOIN stale_marks m ON m.logical_path = e.logical_path
		ORDER BY e.logical_path ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			deps    string
			builtAt string
			reason  sql.NullString
		)
		if err := rows.Scan(
			&e.LogicalPath, &e.ActualPath, &e.ContentHash, &e.Algorithm,
			&deps, &e.Size, &builtAt, &e.RunID, &reason,
		); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		if err := decodeRow(&e, deps, builtAt); err != nil {
			s.logger.Warn("skipping unreadable cache entry", "logical", e.LogicalPath, "error", err)
			continue
		}
		if reason.Valid {
			e.Stale = true
			e.StaleReason = reason.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeRow(e *Entry, deps, builtAt string) error {
	if err := json.Unmarshal([]byte(deps), &e.Deps); err != nil {
		return fmt.Errorf("decode deps: %w", err)
	}
	if e.Deps == nil {
		e.Deps = map[string]string{}
	}
	t, err := time.Parse(time.RFC3339Nano, builtAt)
	if err != nil {
		return fmt.Errorf("decode built_at: %w", err)
	}
	e.BuiltAt = t
	return nil
}
