package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore keeps checkpoints in a SQLite database, one row per
// agent/task pair.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			key TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			task TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			state TEXT NOT NULL,
			document BLOB NOT NULL,
			saved_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_agent
			ON checkpoints(agent_name, saved_at);
	`

	_, err := s.db.Exec(schema)

	return err
}

// Save upserts cp.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	doc, err := prepare(cp)
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO checkpoints (key, agent_name, agent_id, task, iteration, state, document, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		Key(doc.AgentName, doc.Task),
		doc.AgentName,
		doc.AgentID,
		doc.Task,
		doc.Iteration,
		doc.State,
		data,
		doc.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}

	return nil
}

// Load returns the checkpoint of the agent/task pair.
func (s *SQLiteStore) Load(ctx context.Context, agentName, task string) (*Checkpoint, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx, `SELECT document FROM checkpoints WHERE key = ?`, Key(agentName, task)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Key(agentName, task))
	}

	if err != nil {
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	if err := cp.Validate(); err != nil {
		return nil, err
	}

	return &cp, nil
}

// Latest returns the most recently saved checkpoint of an agent across tasks.
func (s *SQLiteStore) Latest(ctx context.Context, agentName string) (*Checkpoint, error) {
	var task string

	err := s.db.QueryRowContext(ctx,
		`SELECT task FROM checkpoints WHERE agent_name = ? ORDER BY saved_at DESC LIMIT 1`,
		agentName,
	).Scan(&task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentName)
	}

	if err != nil {
		return nil, fmt.Errorf("querying latest checkpoint: %w", err)
	}

	return s.Load(ctx, agentName, task)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
