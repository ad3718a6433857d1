package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Checkpoint is the persisted engine position after one step: the merged
// state, the node just executed, and the node to run next.
type Checkpoint struct {
	ThreadID string `json:"thread_id"`
	Step     int    `json:"step"`
	Node     string `json:"node"`
	Next     string `json:"next"`
	State    State  `json:"state"`
}

// Checkpointer persists one checkpoint per step, keyed by thread id.
type Checkpointer interface {
	Save(ctx context.Context, ckpt Checkpoint) error
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)
}

// ===========================================================================
// SQLite backend
// ===========================================================================

// SQLiteCheckpointer stores checkpoints in an embedded database so runs
// survive process restarts.
type SQLiteCheckpointer struct {
	db *sql.DB
}

// NewSQLiteCheckpointer opens (creating if needed) the checkpoint
// database at path.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		node TEXT NOT NULL,
		next TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (thread_id, step)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize checkpoint schema: %w", err)
	}

	return &SQLiteCheckpointer{db: db}, nil
}

// Close releases the database handle.
func (c *SQLiteCheckpointer) Close() error {
	return c.db.Close()
}

// Save writes one checkpoint row. Re-running a step for the same thread
// replaces the previous row.
func (c *SQLiteCheckpointer) Save(ctx context.Context, ckpt Checkpoint) error {
	stateJSON, err := json.Marshal(ckpt.State)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (thread_id, step, node, next, state)
		 VALUES (?, ?, ?, ?, ?)`,
		ckpt.ThreadID, ckpt.Step, ckpt.Node, ckpt.Next, string(stateJSON))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest returns the highest-step checkpoint for the thread, or nil when
// the thread has none.
func (c *SQLiteCheckpointer) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT step, node, next, state FROM checkpoints
		 WHERE thread_id = ? ORDER BY step DESC LIMIT 1`, threadID)

	var ckpt Checkpoint
	var stateJSON string
	err := row.Scan(&ckpt.Step, &ckpt.Node, &ckpt.Next, &stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	ckpt.ThreadID = threadID
	if err := json.Unmarshal([]byte(stateJSON), &ckpt.State); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	return &ckpt, nil
}

// ===========================================================================
// In-memory backend
// ===========================================================================

// MemoryCheckpointer keeps checkpoints in memory. Used by tests and by
// one-shot runs that opt out of persistence.
type MemoryCheckpointer struct {
	mu     sync.Mutex
	latest map[string]Checkpoint
}

// NewMemoryCheckpointer returns an empty in-memory store.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{latest: make(map[string]Checkpoint)}
}

func (c *MemoryCheckpointer) Save(_ context.Context, ckpt Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[ckpt.ThreadID] = ckpt
	return nil
}

func (c *MemoryCheckpointer) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ckpt, ok := c.latest[threadID]
	if !ok {
		return nil, nil
	}
	return &ckpt, nil
}
