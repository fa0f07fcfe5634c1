// Package history persists workflow runs, per-node results, and lifecycle
// events to SQLite so finished runs can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/cascade-labs/cascade/internal/events"
	"github.com/cascade-labs/cascade/internal/types"
	"github.com/cascade-labs/cascade/internal/workflow"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed run history store. Safe for concurrent use;
// the underlying pool serializes writers via WAL and the busy timeout.
type Store struct {
	conn *sql.DB
	path string
}

// Config holds store configuration options.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultConfig returns sensible defaults for the given database path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// Open creates a store at path with default configuration.
func Open(path string) (*Store, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig creates a store with custom configuration. WAL mode and
// foreign keys are enabled via the DSN and verified before use.
func OpenWithConfig(cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	s := &Store{conn: conn, path: cfg.Path}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	workflow_id    TEXT NOT NULL,
	workflow_name  TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	error          TEXT,
	input          TEXT,
	outputs        TEXT,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	nodes_executed INTEGER NOT NULL DEFAULT 0,
	nodes_failed   INTEGER NOT NULL DEFAULT 0,
	nodes_skipped  INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id, created_at);

CREATE TABLE IF NOT EXISTS node_results (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	node_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	output      TEXT,
	error       TEXT,
	skip_reason TEXT NOT NULL DEFAULT '',
	position    INTEGER NOT NULL,
	PRIMARY KEY (run_id, node_id)
);

CREATE TABLE IF NOT EXISTS run_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	node_id    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, id);
`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply history schema: %w", err)
	}
	return nil
}

// RunRecord is the persisted summary of one workflow run.
type RunRecord struct {
	RunID         types.ID                  `json:"run_id"`
	WorkflowID    types.ID                  `json:"workflow_id"`
	WorkflowName  string                    `json:"workflow_name"`
	Status        workflow.RunStatus        `json:"status"`
	Error         string                    `json:"error,omitempty"`
	Input         map[string]any            `json:"input,omitempty"`
	Outputs       map[string]map[string]any `json:"outputs,omitempty"`
	Duration      time.Duration             `json:"duration"`
	NodesExecuted int                       `json:"nodes_executed"`
	NodesFailed   int                       `json:"nodes_failed"`
	NodesSkipped  int                       `json:"nodes_skipped"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// SaveRun persists a finished run and its node results in one transaction.
func (s *Store) SaveRun(ctx context.Context, w *workflow.Workflow, input map[string]any, result *workflow.ExecutionResult) error {
	if result == nil {
		return fmt.Errorf("cannot save nil result")
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal run input: %w", err)
	}
	outputsJSON, err := json.Marshal(result.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal run outputs: %w", err)
	}

	var runErr string
	if result.Error != nil {
		runErr = result.Error.Error()
	}
	var workflowName string
	if w != nil {
		workflowName = w.Name
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, workflow_name, status, error, input, outputs,
			duration_ms, nodes_executed, nodes_failed, nodes_skipped, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID.String(),
		result.WorkflowID.String(),
		workflowName,
		string(result.Status),
		runErr,
		string(inputJSON),
		string(outputsJSON),
		result.TotalDuration.Milliseconds(),
		result.NodesExecuted,
		result.NodesFailed,
		result.NodesSkipped,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, nr := range result.NodeResults {
		outputJSON, err := json.Marshal(nr.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal output of node %s: %w", nr.NodeID, err)
		}
		var nodeErr string
		if nr.Error != nil {
			nodeErr = nr.Error.Error()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO node_results (run_id, node_id, status, retry_count, duration_ms,
				output, error, skip_reason, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID.String(),
			nr.NodeID,
			string(nr.Status),
			nr.RetryCount,
			nr.Duration.Milliseconds(),
			string(outputJSON),
			nodeErr,
			nr.SkipReason,
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for node %s: %w", nr.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun loads one run record by ID.
func (s *Store) GetRun(ctx context.Context, runID types.ID) (*RunRecord, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, workflow_id, workflow_name, status, error, input, outputs,
			duration_ms, nodes_executed, nodes_failed, nodes_skipped, created_at
		FROM runs WHERE id = ?`,
		runID.String(),
	)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return rec, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, workflow_id, workflow_name, status, error, input, outputs,
			duration_ms, nodes_executed, nodes_failed, nodes_skipped, created_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// NodeRecord is one persisted node result.
type NodeRecord struct {
	RunID      types.ID            `json:"run_id"`
	NodeID     string              `json:"node_id"`
	Status     workflow.NodeStatus `json:"status"`
	RetryCount int                 `json:"retry_count"`
	Duration   time.Duration       `json:"duration"`
	Output     map[string]any      `json:"output,omitempty"`
	Error      string              `json:"error,omitempty"`
	SkipReason string              `json:"skip_reason,omitempty"`
}

// GetNodeResults returns the node results of a run in execution order.
func (s *Store) GetNodeResults(ctx context.Context, runID types.ID) ([]*NodeRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, node_id, status, retry_count, duration_ms, output, error, skip_reason
		FROM node_results WHERE run_id = ? ORDER BY position`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query node results: %w", err)
	}
	defer rows.Close()

	var recs []*NodeRecord
	for rows.Next() {
		var (
			rec        NodeRecord
			id         string
			status     string
			durationMS int64
			outputJSON string
		)
		if err := rows.Scan(&id, &rec.NodeID, &status, &rec.RetryCount, &durationMS,
			&outputJSON, &rec.Error, &rec.SkipReason); err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		rec.RunID = types.ID(id)
		rec.Status = workflow.NodeStatus(status)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if outputJSON != "" && outputJSON != "null" {
			if err := json.Unmarshal([]byte(outputJSON), &rec.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal output of node %s: %w", rec.NodeID, err)
			}
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// AppendEvent persists one lifecycle event.
func (s *Store) AppendEvent(ctx context.Context, ev events.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO run_events (run_id, node_id, type, level, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.NodeID, string(ev.Type), string(ev.Level), ev.Message, ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEvents returns a run's persisted events in insertion order.
func (s *Store) ListEvents(ctx context.Context, runID types.ID) ([]events.Event, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, node_id, type, level, message, created_at
		FROM run_events WHERE run_id = ? ORDER BY id`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var evs []events.Event
	for rows.Next() {
		var (
			ev    events.Event
			typ   string
			level string
		)
		if err := rows.Scan(&ev.RunID, &ev.NodeID, &typ, &level, &ev.Message, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = events.EventType(typ)
		ev.Level = events.Level(level)
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec         RunRecord
		id          string
		workflowID  string
		status      string
		durationMS  int64
		inputJSON   string
		outputsJSON string
	)
	err := row.Scan(&id, &workflowID, &rec.WorkflowName, &status, &rec.Error,
		&inputJSON, &outputsJSON, &durationMS,
		&rec.NodesExecuted, &rec.NodesFailed, &rec.NodesSkipped, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.RunID = types.ID(id)
	rec.WorkflowID = types.ID(workflowID)
	rec.Status = workflow.RunStatus(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if inputJSON != "" && inputJSON != "null" {
		if err := json.Unmarshal([]byte(inputJSON), &rec.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run input: %w", err)
		}
	}
	if outputsJSON != "" && outputsJSON != "null" {
		if err := json.Unmarshal([]byte(outputsJSON), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run outputs: %w", err)
		}
	}
	return &rec, nil
}
