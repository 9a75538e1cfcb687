package report

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store keeps evaluation history in SQLite so runs can be compared.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the evaluation database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open evaluation database")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate evaluation database")
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		image TEXT NOT NULL,
		kind TEXT NOT NULL,
		iou REAL NOT NULL,
		accuracy REAL NOT NULL,
		dice REAL NOT NULL,
		loss REAL NOT NULL DEFAULT 0,
		per_class TEXT NOT NULL DEFAULT '[]',
		error TEXT NOT NULL DEFAULT '',
		evaluated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id);
	`)
	return err
}

// Insert records one entry under runID.
func (s *Store) Insert(runID string, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perClass, err := json.Marshal(e.PerClass)
	if err != nil {
		return 0, errors.Wrap(err, "encode per-class scores")
	}
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = time.Now()
	}
	clean := sanitize([]Entry{e})[0]

	result, err := s.db.Exec(`
		INSERT INTO evaluations (run_id, image, kind, iou, accuracy, dice, loss, per_class, error, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, clean.Image, clean.Kind, clean.IoU, clean.ForegroundAccuracy, clean.Dice, clean.Loss,
		string(perClass), clean.Err, clean.EvaluatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errors.Wrapf(err, "insert evaluation of %s", e.Image)
	}
	return result.LastInsertId()
}

// Entries returns the entries of a run in insertion order.
func (s *Store) Entries(runID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT image, kind, iou, accuracy, dice, loss, per_class, error, evaluated_at
		FROM evaluations WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query evaluations")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var perClass, evaluatedAt string
		if err := rows.Scan(&e.Image, &e.Kind, &e.IoU, &e.ForegroundAccuracy, &e.Dice, &e.Loss, &perClass, &e.Err, &evaluatedAt); err != nil {
			return nil, errors.Wrap(err, "scan evaluation")
		}
		if err := json.Unmarshal([]byte(perClass), &e.PerClass); err != nil {
			return nil, errors.Wrapf(err, "decode per-class scores of %s", e.Image)
		}
		if e.EvaluatedAt, err = time.Parse(time.RFC3339Nano, evaluatedAt); err != nil {
			return nil, errors.Wrapf(err, "parse evaluation time of %s", e.Image)
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate evaluations")
}

// Runs lists the distinct run identifiers, oldest first.
func (s *Store) Runs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT run_id FROM evaluations GROUP BY run_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, id)
	}
	return runs, errors.Wrap(rows.Err(), "iterate runs")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
