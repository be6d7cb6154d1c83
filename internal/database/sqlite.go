package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jasonwaters/icloud-photos-sync/internal/database/migrations"
	"github.com/jasonwaters/icloud-photos-sync/internal/engine"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SyncRun is one recorded invocation of the sync pipeline. The history store
// is an operation log only; the library state itself lives on disk and is
// never indexed here.
type SyncRun struct {
	ID            int64
	RunID         string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Status        string // "running" until finished, then "success" or "error"
	Attempts      int
	AssetsKept    int
	AssetsAdded   int
	AssetsRemoved int
	AlbumsKept    int
	AlbumsAdded   int
	AlbumsRemoved int
	LastError     sql.NullString
}

// SQLiteDatabase stores the sync-run history in SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens (and migrates) the history database.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite default is OFF for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// CreateSyncRun records the start of a run and returns its row ID.
func (s *SQLiteDatabase) CreateSyncRun(runID string, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sync_runs (run_id, started_at, status) VALUES (?, ?, 'running')`,
		runID, startedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading sync run id: %w", err)
	}
	return id, nil
}

// FinishSyncRun finalizes a run record with its outcome and counters.
func (s *SQLiteDatabase) FinishSyncRun(id int64, finishedAt time.Time, status string, summary engine.Summary, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE sync_runs SET
			finished_at = ?, status = ?, attempts = ?,
			assets_kept = ?, assets_added = ?, assets_removed = ?,
			albums_kept = ?, albums_added = ?, albums_removed = ?,
			last_error = ?
		WHERE id = ?`,
		finishedAt.UTC(), status, summary.Attempts,
		summary.AssetsKept, summary.AssetsAdded, summary.AssetsRemoved,
		summary.AlbumsKept, summary.AlbumsAdded, summary.AlbumsRemoved,
		nullString(lastError), id,
	)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent runs, newest first.
func (s *SQLiteDatabase) ListSyncRuns(limit int) ([]*SyncRun, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, started_at, finished_at, status, attempts,
			assets_kept, assets_added, assets_removed,
			albums_kept, albums_added, albums_removed, last_error
		FROM sync_runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Attempts,
			&r.AssetsKept, &r.AssetsAdded, &r.AssetsRemoved,
			&r.AlbumsKept, &r.AlbumsAdded, &r.AlbumsRemoved, &r.LastError,
		); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
