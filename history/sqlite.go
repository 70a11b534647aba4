package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

const schema = `CREATE TABLE IF NOT EXISTS turns (
	id           TEXT PRIMARY KEY,
	query        TEXT NOT NULL,
	results      TEXT NOT NULL DEFAULT '[]',
	content      TEXT NOT NULL DEFAULT '',
	reasoning    TEXT NOT NULL DEFAULT '',
	final_answer TEXT NOT NULL DEFAULT '',
	provider     TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS turns_created_at ON turns (created_at);`

// timeLayout is fixed width so created_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps turns in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" keeps it in process.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("history: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer; also keeps one :memory: database

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts or replaces a turn
func (s *SQLiteStore) Save(ctx context.Context, turn *Turn) error {
	if turn.ID == "" {
		return errors.New("history: turn ID is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	results := turn.Results
	if results == nil {
		results = []search.Result{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("history: encode results: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO turns (id, query, results, content, reasoning, final_answer, provider, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.Query, string(resultsJSON), turn.Content, turn.Reasoning, turn.FinalAnswer,
		turn.Provider, turn.Model, turn.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("history: save %s: %w", turn.ID, err)
	}
	return nil
}

// List returns the newest turns first
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, results, content, reasoning, final_answer, provider, model, created_at
		 FROM turns ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *turn)
	}
	return turns, rows.Err()
}

// Get returns a single turn or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Turn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, results, content, reasoning, final_answer, provider, model, created_at
		 FROM turns WHERE id = ?`, id)

	turn, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return turn, err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (*Turn, error) {
	var turn Turn
	var resultsJSON, createdAt string
	err := row.Scan(&turn.ID, &turn.Query, &resultsJSON, &turn.Content, &turn.Reasoning,
		&turn.FinalAnswer, &turn.Provider, &turn.Model, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("history: scan: %w", err)
	}

	if err := json.Unmarshal([]byte(resultsJSON), &turn.Results); err != nil {
		return nil, fmt.Errorf("history: decode results for %s: %w", turn.ID, err)
	}
	turn.CreatedAt, _ = time.Parse(timeLayout, createdAt)

	// Rows written before the split was stored only carry the raw content
	if turn.Reasoning == "" && turn.FinalAnswer == "" && turn.Content != "" {
		split := sections.Classify(turn.Content)
		turn.Reasoning, turn.FinalAnswer = split.Reasoning, split.FinalAnswer
	}
	return &turn, nil
}

// Verify SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
