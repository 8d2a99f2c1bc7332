// Package store persists taxod state in a local SQLite database: tree
// snapshots, the deep-analysis task ledger, structural suggestions, and
// learned filename patterns.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taxod/internal/deepscan"
	"taxod/internal/logging"
	"taxod/internal/taxonomy"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Repository is the SQLite-backed persistence layer. A single connection
// with WAL keeps writes serialized without lock contention.
type Repository struct {
	db   *sql.DB
	path string
}

// NewRepository opens (or creates) the database at path and ensures the
// schema exists.
func NewRepository(path string) (*Repository, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewRepository")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: sqlite handles one writer, and a pool of
	// connections just turns into SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	r := &Repository{db: db, path: path}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("repository opened at %s", path)
	return r, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	logging.StoreDebug("closing repository at %s", r.path)
	return r.db.Close()
}

func (r *Repository) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tree_snapshots (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP NOT NULL,
		data       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_ledger (
		id            TEXT PRIMARY KEY,
		file_name     TEXT NOT NULL,
		status        TEXT NOT NULL,
		priority      INTEGER NOT NULL,
		recategorized INTEGER NOT NULL DEFAULT 0,
		enqueued_at   TIMESTAMP NOT NULL,
		ended_at      TIMESTAMP,
		data          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_task_ledger_status ON task_ledger(status);

	CREATE TABLE IF NOT EXISTS suggestions (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		data       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions(status);

	CREATE TABLE IF NOT EXISTS patterns (
		name_key      TEXT PRIMARY KEY,
		category_path TEXT NOT NULL,
		confidence    REAL NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ============================================================================
// TREE SNAPSHOTS
// ============================================================================

// SaveSnapshot persists a tree snapshot and returns its row id.
func (r *Repository) SaveSnapshot(snap *taxonomy.Snapshot) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSnapshot")
	defer timer.Stop()

	if snap == nil {
		return 0, fmt.Errorf("store: nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	res, err := r.db.Exec(
		"INSERT INTO tree_snapshots (created_at, data) VALUES (?, ?)",
		time.Now().UTC(), string(data),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	id, _ := res.LastInsertId()
	logging.Store("saved snapshot %d (%d nodes)", id, len(snap.Nodes))
	return id, nil
}

// LoadLatestSnapshot returns the most recently saved snapshot, or
// ErrNotFound when none exists.
func (r *Repository) LoadLatestSnapshot() (*taxonomy.Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadLatestSnapshot")
	defer timer.Stop()

	var data string
	err := r.db.QueryRow(
		"SELECT data FROM tree_snapshots ORDER BY id DESC LIMIT 1",
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap taxonomy.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
func (r *Repository) PruneSnapshots(keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := r.db.Exec(`
		DELETE FROM tree_snapshots WHERE id NOT IN (
			SELECT id FROM tree_snapshots ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("pruned %d old snapshots", n)
	}
	return n, nil
}

// ============================================================================
// TASK LEDGER
// ============================================================================

// RecordTask upserts a deep-analysis task into the ledger. Satisfies
// deepscan.TaskRecorder.
func (r *Repository) RecordTask(t deepscan.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	recategorized := 0
	if t.Recategorized {
		recategorized = 1
	}
	var ended interface{}
	if !t.EndedAt.IsZero() {
		ended = t.EndedAt.UTC()
	}

	_, err = r.db.Exec(`
		INSERT INTO task_ledger (id, file_name, status, priority, recategorized, enqueued_at, ended_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			recategorized = excluded.recategorized,
			ended_at = excluded.ended_at,
			data = excluded.data`,
		t.ID, t.File.Name, string(t.Status), int(t.Priority), recategorized,
		t.EnqueuedAt.UTC(), ended, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to record task %s: %w", t.ID, err)
	}
	logging.StoreDebug("recorded task %s status=%s", t.ID, t.Status)
	return nil
}

// ListTasks returns the most recent ledger entries, newest first. A
// limit <= 0 returns everything.
func (r *Repository) ListTasks(limit int) ([]deepscan.Task, error) {
	q := "SELECT data FROM task_ledger ORDER BY enqueued_at DESC, id DESC"
	args := []interface{}{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []deepscan.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		var t deepscan.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping undecodable task row: %v", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasksByStatus returns ledger counts keyed by status string.
func (r *Repository) CountTasksByStatus() (map[string]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM task_ledger GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ============================================================================
// SUGGESTIONS
// ============================================================================

const (
	suggestionKindMerge = "merge"
	suggestionKindSplit = "split"
)

// SaveMergeSuggestion upserts a merge suggestion.
func (r *Repository) SaveMergeSuggestion(s *taxonomy.MergeSuggestion) error {
	return r.saveSuggestion(s.ID, suggestionKindMerge, string(s.Status), s.CreatedAt, s)
}

// SaveSplitSuggestion upserts a split suggestion.
func (r *Repository) SaveSplitSuggestion(s *taxonomy.SplitSuggestion) error {
	return r.saveSuggestion(s.ID, suggestionKindSplit, string(s.Status), s.CreatedAt, s)
}

func (r *Repository) saveSuggestion(id, kind, status string, createdAt time.Time, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestion: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO suggestions (id, kind, status, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		id, kind, status, createdAt.UTC(), time.Now().UTC(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save suggestion %s: %w", id, err)
	}
	logging.StoreDebug("saved %s suggestion %s status=%s", kind, id, status)
	return nil
}

// UpdateSuggestionStatus changes a stored suggestion's status.
func (r *Repository) UpdateSuggestionStatus(id string, status taxonomy.SuggestionStatus) error {
	res, err := r.db.Exec(
		"UPDATE suggestions SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update suggestion %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingMergeSuggestions returns stored merge suggestions still awaiting
// a decision, oldest first.
func (r *Repository) PendingMergeSuggestions() ([]taxonomy.MergeSuggestion, error) {
	rows, err := r.db.Query(
		"SELECT data FROM suggestions WHERE kind = ? AND status = ? ORDER BY created_at ASC",
		suggestionKindMerge, string(taxonomy.SuggestionPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge suggestions: %w", err)
	}
	defer rows.Close()

	var out []taxonomy.MergeSuggestion
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var s taxonomy.MergeSuggestion
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping undecodable suggestion row: %v", err)
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ============================================================================
// LEARNED PATTERNS
// ============================================================================

// UpsertPattern records a learned name -> category placement. Higher
// confidence wins on conflict.
func (r *Repository) UpsertPattern(nameKey string, categoryPath []string, confidence float64) error {
	if nameKey == "" || len(categoryPath) == 0 {
		return fmt.Errorf("store: pattern requires a name key and category path")
	}
	path, err := json.Marshal(categoryPath)
	if err != nil {
		return fmt.Errorf("failed to marshal category path: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO patterns (name_key, category_path, confidence, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET
			category_path = excluded.category_path,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
		WHERE excluded.confidence >= patterns.confidence`,
		nameKey, string(path), confidence, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern %q: %w", nameKey, err)
	}
	return nil
}

// LookupPattern returns a previously learned placement for the name key.
// Satisfies deepscan.PatternStore. Database errors read as a miss.
func (r *Repository) LookupPattern(nameKey string) ([]string, float64, bool) {
	var pathJSON string
	var confidence float64
	err := r.db.QueryRow(
		"SELECT category_path, confidence FROM patterns WHERE name_key = ?",
		nameKey,
	).Scan(&pathJSON, &confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("pattern lookup %q: %v", nameKey, err)
		return nil, 0, false
	}

	var path []string
	if err := json.Unmarshal([]byte(pathJSON), &path); err != nil || len(path) == 0 {
		return nil, 0, false
	}
	return path, confidence, true
}
