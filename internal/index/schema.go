// Package index maintains .local/index.db, a regenerable SQLite
// projection over the canonical workspace files: every row is derived
// from a file plus its content fingerprint, never a second source of
// truth. Rebuild and sync are pure reducers over the files on disk.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Index is the open projection cache for one workspace.
type Index struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	project_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	created_at DATETIME,
	status TEXT NOT NULL DEFAULT '',
	worktree_branch TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	usage_source TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL,
	fingerprint TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, run_id)
);

CREATE TABLE IF NOT EXISTS events (
	project_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	event_id TEXT NOT NULL DEFAULT '',
	ts_wallclock DATETIME,
	ts_monotonic_ms INTEGER NOT NULL DEFAULT 0,
	actor TEXT NOT NULL DEFAULT '',
	visibility TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (project_id, run_id, seq)
);

CREATE TABLE IF NOT EXISTS event_parse_errors (
	project_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	raw_line TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, run_id, seq)
);

CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	created_at DATETIME,
	actor_id TEXT NOT NULL DEFAULT '',
	actor_role TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL DEFAULT '',
	subject_kind TEXT NOT NULL DEFAULT '',
	subject_artifact_id TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS help_requests (
	project_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	created_at DATETIME,
	reason TEXT NOT NULL DEFAULT '',
	resolved INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, run_id, event_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	project_id TEXT NOT NULL,
	artifact_id TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	created_at DATETIME,
	visibility TEXT NOT NULL DEFAULT '',
	produced_by TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL DEFAULT '',
	sensitivity TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, artifact_id)
);

CREATE TABLE IF NOT EXISTS pending_approvals (
	project_id TEXT NOT NULL,
	artifact_id TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	created_at DATETIME,
	PRIMARY KEY (project_id, artifact_id)
);

CREATE TABLE IF NOT EXISTS review_decisions (
	review_id TEXT PRIMARY KEY,
	artifact_type TEXT NOT NULL DEFAULT '',
	artifact_id TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL DEFAULT '',
	created_at DATETIME
);

CREATE TABLE IF NOT EXISTS conversations (
	project_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	started_at DATETIME,
	PRIMARY KEY (project_id, run_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS messages (
	project_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	ts_wallclock DATETIME,
	PRIMARY KEY (project_id, run_id, conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS tasks (
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	visibility TEXT NOT NULL DEFAULT '',
	team_id TEXT NOT NULL DEFAULT '',
	assignee_agent_id TEXT NOT NULL DEFAULT '',
	planned_start DATETIME,
	planned_end DATETIME,
	duration_days REAL NOT NULL DEFAULT 0,
	fingerprint TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, task_id)
);

CREATE TABLE IF NOT EXISTS task_milestones (
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	milestone_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	requires_patch INTEGER NOT NULL DEFAULT 0,
	requires_tests INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, task_id, milestone_id)
);

CREATE TABLE IF NOT EXISTS agent_counters (
	agent_id TEXT PRIMARY KEY,
	runs_launched INTEGER NOT NULL DEFAULT 0,
	runs_ended INTEGER NOT NULL DEFAULT 0,
	runs_failed INTEGER NOT NULL DEFAULT 0,
	total_cost_usd REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	project_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	last_seq INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_events_type ON events(project_id, run_id, type);
CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(project_id, type);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(project_id, status);
CREATE INDEX IF NOT EXISTS idx_reviews_created ON reviews(created_at);
`

// Open creates or opens the projection database at dbPath (creating its
// parent directory if needed) and ensures the schema exists.
func Open(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("index: create dir for %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

func (ix *Index) DB() *sql.DB { return ix.db }
