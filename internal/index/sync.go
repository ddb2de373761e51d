package index

import (
	"database/sql"
	"sync"

	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// workspaceLocks serializes rebuild/sync per workspace root so two
// goroutines never race on the same index.db.
var (
	workspaceLocksMu sync.Mutex
	workspaceLocks   = map[string]*sync.Mutex{}
)

func lockFor(workspaceRoot string) *sync.Mutex {
	workspaceLocksMu.Lock()
	defer workspaceLocksMu.Unlock()
	m, ok := workspaceLocks[workspaceRoot]
	if !ok {
		m = &sync.Mutex{}
		workspaceLocks[workspaceRoot] = m
	}
	return m
}

// RebuildSqliteIndex drops and reprojects every row from the canonical
// workspace files. Safe to call on an index.db that already has rows:
// every statement is upsert-or-delete against the current file set.
func RebuildSqliteIndex(ix *Index, ws *workspace.Workspace) error {
	mu := lockFor(ws.Root)
	mu.Lock()
	defer mu.Unlock()

	if err := clearAllTables(ix.db); err != nil {
		return err
	}
	return projectAll(ix, ws)
}

// SyncSqliteIndex walks the workspace and upserts rows only for files
// whose fingerprint changed since the last sync, resuming event
// projection from each run's last recorded sequence number. Rows for
// projects/runs that have disappeared from disk are deleted.
func SyncSqliteIndex(ix *Index, ws *workspace.Workspace) error {
	mu := lockFor(ws.Root)
	mu.Lock()
	defer mu.Unlock()

	return projectAll(ix, ws)
}

func clearAllTables(db *sql.DB) error {
	tables := []string{
		"runs", "events", "event_parse_errors", "reviews", "help_requests",
		"artifacts", "pending_approvals", "review_decisions", "conversations",
		"messages", "tasks", "task_milestones", "agent_counters", "sync_cursors",
	}
	for _, t := range tables {
		if _, err := db.Exec("DELETE FROM " + t); err != nil {
			return err
		}
	}
	return nil
}

func projectAll(ix *Index, ws *workspace.Workspace) error {
	projectIDs, err := ws.ListProjectIDs()
	if err != nil {
		return err
	}
	seenProjects := make(map[string]bool, len(projectIDs))
	for _, pid := range projectIDs {
		seenProjects[pid] = true
		if err := projectRuns(ix, ws, pid); err != nil {
			return err
		}
		if err := projectArtifacts(ix, ws, pid); err != nil {
			return err
		}
		if err := projectTasks(ix, ws, pid); err != nil {
			return err
		}
	}
	if err := pruneMissingProjects(ix.db, seenProjects); err != nil {
		return err
	}
	if err := projectReviews(ix, ws); err != nil {
		return err
	}
	return recomputeAgentCounters(ix.db)
}

// recomputeAgentCounters rebuilds agent_counters from the current runs
// table; cheap enough to redo wholesale on every sync since run counts
// per workspace stay small relative to a full index rebuild.
func recomputeAgentCounters(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM agent_counters`); err != nil {
		return err
	}
	_, err := db.Exec(`
		INSERT INTO agent_counters (agent_id, runs_launched, runs_ended, runs_failed, total_cost_usd)
		SELECT
			agent_id,
			COUNT(*),
			SUM(CASE WHEN status='ended' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END),
			COALESCE(SUM(cost_usd), 0)
		FROM runs
		WHERE agent_id != ''
		GROUP BY agent_id
	`)
	return err
}

func projectRuns(ix *Index, ws *workspace.Workspace, projectID string) error {
	runIDs, err := ws.ListRunIDs(projectID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(runIDs))
	for _, rid := range runIDs {
		seen[rid] = true
		fp, err := fingerprint(ws.RunYAML(projectID, rid))
		if err != nil {
			continue
		}
		var existingFP string
		_ = ix.db.QueryRow(`SELECT fingerprint FROM runs WHERE project_id=? AND run_id=?`, projectID, rid).Scan(&existingFP)
		if existingFP != fp {
			run, err := ws.ReadRun(projectID, rid)
			if err == nil {
				if err := upsertRun(ix.db, run, fp); err != nil {
					return err
				}
			}
		}
		if err := syncRunEvents(ix, ws, projectID, rid); err != nil {
			return err
		}
	}
	return pruneMissingRuns(ix.db, projectID, seen)
}

func upsertRun(db *sql.DB, r *workspace.Run, fp string) error {
	var costUSD any
	var usageSource string
	var in, out, total int
	if r.Usage != nil {
		usageSource = string(r.Usage.Source)
		in, out, total = r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.TotalTokens
		if r.Usage.CostUSD != nil {
			costUSD = *r.Usage.CostUSD
		}
	}
	_, err := db.Exec(`
		INSERT INTO runs (project_id, run_id, agent_id, provider, created_at, status, worktree_branch, task_id, usage_source, input_tokens, output_tokens, total_tokens, cost_usd, fingerprint)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(project_id, run_id) DO UPDATE SET
			agent_id=excluded.agent_id, provider=excluded.provider, created_at=excluded.created_at,
			status=excluded.status, worktree_branch=excluded.worktree_branch, task_id=excluded.task_id,
			usage_source=excluded.usage_source, input_tokens=excluded.input_tokens,
			output_tokens=excluded.output_tokens, total_tokens=excluded.total_tokens,
			cost_usd=excluded.cost_usd, fingerprint=excluded.fingerprint
	`, r.ProjectID, r.RunID, r.AgentID, r.Provider, r.CreatedAt, string(r.Status), r.Spec.WorktreeBranch, r.Spec.TaskID, usageSource, in, out, total, costUSD, fp)
	return err
}

// syncRunEvents resumes from the run's last recorded sequence number and
// appends any new events.jsonl lines as rows, recording malformed lines
// as event_parse_errors instead of discarding them.
func syncRunEvents(ix *Index, ws *workspace.Workspace, projectID, runID string) error {
	lines, err := eventlog.ReadEventsJSONL(ws.EventsJSONL(projectID, runID))
	if err != nil {
		return err
	}

	var cursor int
	_ = ix.db.QueryRow(`SELECT last_seq FROM sync_cursors WHERE project_id=? AND run_id=?`, projectID, runID).Scan(&cursor)

	// seq is 1-based (the line's position in events.jsonl), so
	// ListEvents(sinceSeq=0) includes a run's first event and last_seq
	// equals the number of lines already projected.
	for i := cursor; i < len(lines); i++ {
		seq := i + 1
		line := lines[i]
		if !line.OK {
			if _, err := ix.db.Exec(`
				INSERT INTO event_parse_errors (project_id, run_id, seq, raw_line, error_text)
				VALUES (?,?,?,?,?)
				ON CONFLICT(project_id, run_id, seq) DO NOTHING
			`, projectID, runID, seq, line.Raw, line.Err.Error()); err != nil {
				return err
			}
			continue
		}
		payloadJSON, _ := marshalPayload(line.Event.Payload)
		if _, err := ix.db.Exec(`
			INSERT INTO events (project_id, run_id, seq, event_id, ts_wallclock, ts_monotonic_ms, actor, visibility, type, payload_json)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(project_id, run_id, seq) DO NOTHING
		`, projectID, runID, seq, line.Event.EventID, line.Event.TsWallclock, line.Event.TsMonotonicMs, line.Event.Actor, string(line.Event.Visibility), line.Event.Type, payloadJSON); err != nil {
			return err
		}
		if err := projectConversationEvent(ix.db, projectID, runID, seq, line.Event); err != nil {
			return err
		}
		if line.Event.Type == "help.requested" {
			if _, err := ix.db.Exec(`
				INSERT INTO help_requests (project_id, run_id, event_id, created_at, reason, resolved)
				VALUES (?,?,?,?,?,0)
				ON CONFLICT(project_id, run_id, event_id) DO NOTHING
			`, projectID, runID, line.Event.EventID, line.Event.TsWallclock, stringField(line.Event.Payload, "reason")); err != nil {
				return err
			}
		}
		if line.Event.Type == "help.resolved" {
			if _, err := ix.db.Exec(`
				UPDATE help_requests SET resolved=1 WHERE project_id=? AND run_id=? AND event_id=?
			`, projectID, runID, stringField(line.Event.Payload, "event_id")); err != nil {
				return err
			}
		}
	}

	_, err = ix.db.Exec(`
		INSERT INTO sync_cursors (project_id, run_id, last_seq) VALUES (?,?,?)
		ON CONFLICT(project_id, run_id) DO UPDATE SET last_seq=excluded.last_seq
	`, projectID, runID, len(lines))
	return err
}

func projectArtifacts(ix *Index, ws *workspace.Workspace, projectID string) error {
	ids, err := ws.ListArtifactIDs(projectID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	for _, aid := range ids {
		seen[aid] = true
		fp, err := fingerprint(ws.ArtifactPath(projectID, aid))
		if err != nil {
			continue
		}
		var existingFP string
		_ = ix.db.QueryRow(`SELECT fingerprint FROM artifacts WHERE project_id=? AND artifact_id=?`, projectID, aid).Scan(&existingFP)
		if existingFP == fp {
			continue
		}
		a, err := ws.ReadArtifact(projectID, aid)
		if err != nil {
			continue
		}
		if _, err := ix.db.Exec(`
			INSERT INTO artifacts (project_id, artifact_id, type, title, created_at, visibility, produced_by, run_id, sensitivity, fingerprint)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(project_id, artifact_id) DO UPDATE SET
				type=excluded.type, title=excluded.title, created_at=excluded.created_at,
				visibility=excluded.visibility, produced_by=excluded.produced_by, run_id=excluded.run_id,
				sensitivity=excluded.sensitivity, fingerprint=excluded.fingerprint
		`, projectID, aid, string(a.Type), a.Title, a.CreatedAt, string(a.Visibility), a.ProducedBy, a.RunID, string(a.Sensitivity), fp); err != nil {
			return err
		}
		if err := syncPendingApproval(ix.db, projectID, aid, a); err != nil {
			return err
		}
	}
	return pruneMissingArtifacts(ix.db, projectID, seen)
}

func syncPendingApproval(db *sql.DB, projectID, artifactID string, a *workspace.Artifact) error {
	switch a.Type {
	case workspace.ArtifactMemoryDelta, workspace.ArtifactMilestoneReport, workspace.ArtifactHeartbeatActionProposal:
		_, err := db.Exec(`
			INSERT INTO pending_approvals (project_id, artifact_id, type, created_at)
			VALUES (?,?,?,?)
			ON CONFLICT(project_id, artifact_id) DO UPDATE SET type=excluded.type, created_at=excluded.created_at
		`, projectID, artifactID, string(a.Type), a.CreatedAt)
		return err
	}
	return nil
}

// ResolvePendingApproval removes a pending_approvals row and records the
// decision once governance resolves an inbox item, keyed by the review
// it produced.
func ResolvePendingApproval(ix *Index, projectID, artifactID string, review *workspace.Review, runID string) error {
	if _, err := ix.db.Exec(`DELETE FROM pending_approvals WHERE project_id=? AND artifact_id=?`, projectID, artifactID); err != nil {
		return err
	}
	var artifactType string
	_ = ix.db.QueryRow(`SELECT type FROM artifacts WHERE project_id=? AND artifact_id=?`, projectID, artifactID).Scan(&artifactType)
	_, err := ix.db.Exec(`
		INSERT INTO review_decisions (review_id, artifact_type, artifact_id, run_id, decision, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(review_id) DO UPDATE SET decision=excluded.decision
	`, review.ID, artifactType, artifactID, runID, string(review.Decision), review.CreatedAt)
	return err
}

func projectTasks(ix *Index, ws *workspace.Workspace, projectID string) error {
	ids, err := ws.ListTaskIDs(projectID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	for _, tid := range ids {
		seen[tid] = true
		fp, err := fingerprint(ws.TaskPath(projectID, tid))
		if err != nil {
			continue
		}
		var existingFP string
		_ = ix.db.QueryRow(`SELECT fingerprint FROM tasks WHERE project_id=? AND task_id=?`, projectID, tid).Scan(&existingFP)
		if existingFP == fp {
			continue
		}
		task, err := ws.ReadTask(projectID, tid)
		if err != nil {
			continue
		}
		if err := upsertTask(ix.db, task, fp); err != nil {
			return err
		}
	}
	return pruneMissingTasks(ix.db, projectID, seen)
}

func upsertTask(db *sql.DB, t *workspace.Task, fp string) error {
	_, err := db.Exec(`
		INSERT INTO tasks (project_id, task_id, title, status, visibility, team_id, assignee_agent_id, planned_start, planned_end, duration_days, fingerprint)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(project_id, task_id) DO UPDATE SET
			title=excluded.title, status=excluded.status, visibility=excluded.visibility,
			team_id=excluded.team_id, assignee_agent_id=excluded.assignee_agent_id,
			planned_start=excluded.planned_start, planned_end=excluded.planned_end,
			duration_days=excluded.duration_days, fingerprint=excluded.fingerprint
	`, t.ProjectID, t.ID, t.Title, string(t.Status), string(t.Visibility), t.TeamID, t.AssigneeAgentID, t.Schedule.PlannedStart, t.Schedule.PlannedEnd, t.Schedule.DurationDays, fp)
	if err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM task_milestones WHERE project_id=? AND task_id=?`, t.ProjectID, t.ID); err != nil {
		return err
	}
	for _, m := range t.Milestones {
		if _, err := db.Exec(`
			INSERT INTO task_milestones (project_id, task_id, milestone_id, title, kind, status, requires_patch, requires_tests)
			VALUES (?,?,?,?,?,?,?,?)
		`, t.ProjectID, t.ID, m.ID, m.Title, string(m.Kind), string(m.Status), boolToInt(m.Evidence.RequiresPatch), boolToInt(m.Evidence.RequiresTests)); err != nil {
			return err
		}
	}
	return nil
}

func projectReviews(ix *Index, ws *workspace.Workspace) error {
	ids, err := ws.ListReviewIDs()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	for _, rid := range ids {
		seen[rid] = true
		fp, err := fingerprint(ws.ReviewYAML(rid))
		if err != nil {
			continue
		}
		var existingFP string
		_ = ix.db.QueryRow(`SELECT fingerprint FROM reviews WHERE id=?`, rid).Scan(&existingFP)
		if existingFP == fp {
			continue
		}
		rev, err := ws.ReadReview(rid)
		if err != nil {
			continue
		}
		if _, err := ix.db.Exec(`
			INSERT INTO reviews (id, created_at, actor_id, actor_role, decision, subject_kind, subject_artifact_id, notes, fingerprint)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				created_at=excluded.created_at, actor_id=excluded.actor_id, actor_role=excluded.actor_role,
				decision=excluded.decision, subject_kind=excluded.subject_kind,
				subject_artifact_id=excluded.subject_artifact_id, notes=excluded.notes, fingerprint=excluded.fingerprint
		`, rev.ID, rev.CreatedAt, rev.ActorID, string(rev.ActorRole), string(rev.Decision), rev.Subject.Kind, rev.Subject.ArtifactID, rev.Notes, fp); err != nil {
			return err
		}
	}
	return pruneMissing(ix.db, "reviews", "id", seen)
}

func pruneMissingProjects(db *sql.DB, seen map[string]bool) error {
	rows, err := db.Query(`
		SELECT project_id FROM runs
		UNION SELECT project_id FROM artifacts
		UNION SELECT project_id FROM tasks
	`)
	if err != nil {
		return err
	}
	var absent []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return err
		}
		if !seen[pid] {
			absent = append(absent, pid)
		}
	}
	rows.Close()
	for _, pid := range absent {
		for _, t := range []string{"runs", "events", "event_parse_errors", "sync_cursors", "artifacts", "pending_approvals", "tasks", "task_milestones"} {
			if _, err := db.Exec("DELETE FROM "+t+" WHERE project_id=?", pid); err != nil {
				return err
			}
		}
	}
	return nil
}

func pruneMissingRuns(db *sql.DB, projectID string, seen map[string]bool) error {
	rows, err := db.Query(`SELECT run_id FROM runs WHERE project_id=?`, projectID)
	if err != nil {
		return err
	}
	var absent []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return err
		}
		if !seen[rid] {
			absent = append(absent, rid)
		}
	}
	rows.Close()
	for _, rid := range absent {
		for _, t := range []string{"runs", "events", "event_parse_errors", "sync_cursors"} {
			if _, err := db.Exec("DELETE FROM "+t+" WHERE project_id=? AND run_id=?", projectID, rid); err != nil {
				return err
			}
		}
	}
	return nil
}

func pruneMissingArtifacts(db *sql.DB, projectID string, seen map[string]bool) error {
	rows, err := db.Query(`SELECT artifact_id FROM artifacts WHERE project_id=?`, projectID)
	if err != nil {
		return err
	}
	var absent []string
	for rows.Next() {
		var aid string
		if err := rows.Scan(&aid); err != nil {
			rows.Close()
			return err
		}
		if !seen[aid] {
			absent = append(absent, aid)
		}
	}
	rows.Close()
	for _, aid := range absent {
		for _, t := range []string{"artifacts", "pending_approvals"} {
			if _, err := db.Exec("DELETE FROM "+t+" WHERE project_id=? AND artifact_id=?", projectID, aid); err != nil {
				return err
			}
		}
	}
	return nil
}

func pruneMissingTasks(db *sql.DB, projectID string, seen map[string]bool) error {
	rows, err := db.Query(`SELECT task_id FROM tasks WHERE project_id=?`, projectID)
	if err != nil {
		return err
	}
	var absent []string
	for rows.Next() {
		var tid string
		if err := rows.Scan(&tid); err != nil {
			rows.Close()
			return err
		}
		if !seen[tid] {
			absent = append(absent, tid)
		}
	}
	rows.Close()
	for _, tid := range absent {
		for _, t := range []string{"tasks", "task_milestones"} {
			if _, err := db.Exec("DELETE FROM "+t+" WHERE project_id=? AND task_id=?", projectID, tid); err != nil {
				return err
			}
		}
	}
	return nil
}

func pruneMissing(db *sql.DB, table, idCol string, seen map[string]bool) error {
	rows, err := db.Query("SELECT " + idCol + " FROM " + table)
	if err != nil {
		return err
	}
	var absent []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if !seen[id] {
			absent = append(absent, id)
		}
	}
	rows.Close()
	for _, id := range absent {
		if _, err := db.Exec("DELETE FROM "+table+" WHERE "+idCol+"=?", id); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
