package index

import "time"

// RunRow is a projected runs row returned to snapshot aggregators.
type RunRow struct {
	ProjectID      string
	RunID          string
	AgentID        string
	Provider       string
	CreatedAt      time.Time
	Status         string
	WorktreeBranch string
	TaskID         string
	TotalTokens    int
	CostUSD        *float64
}

func (ix *Index) ListRuns(projectID string) ([]RunRow, error) {
	rows, err := ix.db.Query(`
		SELECT project_id, run_id, agent_id, provider, created_at, status, worktree_branch, task_id, total_tokens, cost_usd
		FROM runs WHERE project_id=? ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var cost *float64
		if err := rows.Scan(&r.ProjectID, &r.RunID, &r.AgentID, &r.Provider, &r.CreatedAt, &r.Status, &r.WorktreeBranch, &r.TaskID, &r.TotalTokens, &cost); err != nil {
			return nil, err
		}
		r.CostUSD = cost
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventRow is a projected events row.
type EventRow struct {
	Seq         int
	EventID     string
	TsWallclock time.Time
	Actor       string
	Visibility  string
	Type        string
	PayloadJSON string
}

// ListEvents returns events for (project,run) with seq > sinceSeq, in the
// requested order, capped at limit (0 means unlimited).
func ListEvents(ix *Index, projectID, runID string, sinceSeq, limit int, ascending bool) ([]EventRow, error) {
	order := "ASC"
	if !ascending {
		order = "DESC"
	}
	query := `
		SELECT seq, event_id, ts_wallclock, actor, visibility, type, payload_json
		FROM events WHERE project_id=? AND run_id=? AND seq > ?
		ORDER BY seq ` + order
	args := []any{projectID, runID, sinceSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Seq, &e.EventID, &e.TsWallclock, &e.Actor, &e.Visibility, &e.Type, &e.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ArtifactRow is a projected artifacts row.
type ArtifactRow struct {
	ProjectID  string
	ArtifactID string
	Type       string
	Title      string
	CreatedAt  time.Time
	Visibility string
	ProducedBy string
	RunID      string
}

func (ix *Index) ListArtifactsByType(projectID, artifactType string) ([]ArtifactRow, error) {
	query := `SELECT project_id, artifact_id, type, title, created_at, visibility, produced_by, run_id FROM artifacts WHERE project_id=?`
	args := []any{projectID}
	if artifactType != "" {
		query += " AND type=?"
		args = append(args, artifactType)
	}
	query += " ORDER BY created_at ASC"
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArtifactRow
	for rows.Next() {
		var a ArtifactRow
		if err := rows.Scan(&a.ProjectID, &a.ArtifactID, &a.Type, &a.Title, &a.CreatedAt, &a.Visibility, &a.ProducedBy, &a.RunID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PendingApprovalRow is a projected pending_approvals row.
type PendingApprovalRow struct {
	ProjectID  string
	ArtifactID string
	Type       string
	CreatedAt  time.Time
}

func (ix *Index) ListPendingApprovals(projectID string) ([]PendingApprovalRow, error) {
	query := `SELECT project_id, artifact_id, type, created_at FROM pending_approvals`
	args := []any{}
	if projectID != "" {
		query += " WHERE project_id=?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at ASC"
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingApprovalRow
	for rows.Next() {
		var p PendingApprovalRow
		if err := rows.Scan(&p.ProjectID, &p.ArtifactID, &p.Type, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReviewDecisionRow joins review_decisions with its artifact type / run_id
// and, via a best-effort join against artifacts on artifact_id, the
// project_id that artifact belongs to (empty if the artifact is no
// longer projected, e.g. deleted from disk since the decision was made).
type ReviewDecisionRow struct {
	ReviewID     string
	ArtifactType string
	ArtifactID   string
	ProjectID    string
	RunID        string
	Decision     string
	CreatedAt    time.Time
}

func (ix *Index) ListRecentDecisions(limit int) ([]ReviewDecisionRow, error) {
	query := `
		SELECT d.review_id, d.artifact_type, d.artifact_id, COALESCE(a.project_id, ''), d.run_id, d.decision, d.created_at
		FROM review_decisions d
		LEFT JOIN artifacts a ON a.artifact_id = d.artifact_id
		ORDER BY d.created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewDecisionRow
	for rows.Next() {
		var d ReviewDecisionRow
		if err := rows.Scan(&d.ReviewID, &d.ArtifactType, &d.ArtifactID, &d.ProjectID, &d.RunID, &d.Decision, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReviewRow is a projected reviews row.
type ReviewRow struct {
	ID                 string
	CreatedAt          time.Time
	ActorID            string
	ActorRole          string
	Decision           string
	SubjectKind        string
	SubjectArtifactID  string
	Notes              string
}

func (ix *Index) ListReviews(limit int) ([]ReviewRow, error) {
	query := `SELECT id, created_at, actor_id, actor_role, decision, subject_kind, subject_artifact_id, notes FROM reviews ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewRow
	for rows.Next() {
		var r ReviewRow
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.ActorID, &r.ActorRole, &r.Decision, &r.SubjectKind, &r.SubjectArtifactID, &r.Notes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TaskRow is a projected tasks row.
type TaskRow struct {
	ProjectID       string
	TaskID          string
	Title           string
	Status          string
	AssigneeAgentID string
	PlannedStart    *time.Time
	PlannedEnd      *time.Time
	DurationDays    float64
}

func (ix *Index) ListTasks(projectID string) ([]TaskRow, error) {
	rows, err := ix.db.Query(`
		SELECT project_id, task_id, title, status, assignee_agent_id, planned_start, planned_end, duration_days
		FROM tasks WHERE project_id=? ORDER BY task_id ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var t TaskRow
		if err := rows.Scan(&t.ProjectID, &t.TaskID, &t.Title, &t.Status, &t.AssigneeAgentID, &t.PlannedStart, &t.PlannedEnd, &t.DurationDays); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MilestoneRow is a projected task_milestones row.
type MilestoneRow struct {
	TaskID        string
	MilestoneID   string
	Title         string
	Kind          string
	Status        string
	RequiresPatch bool
	RequiresTests bool
}

func (ix *Index) ListMilestones(projectID, taskID string) ([]MilestoneRow, error) {
	rows, err := ix.db.Query(`
		SELECT task_id, milestone_id, title, kind, status, requires_patch, requires_tests
		FROM task_milestones WHERE project_id=? AND task_id=?
	`, projectID, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MilestoneRow
	for rows.Next() {
		var m MilestoneRow
		var requiresPatch, requiresTests int
		if err := rows.Scan(&m.TaskID, &m.MilestoneID, &m.Title, &m.Kind, &m.Status, &requiresPatch, &requiresTests); err != nil {
			return nil, err
		}
		m.RequiresPatch = requiresPatch != 0
		m.RequiresTests = requiresTests != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// ParseErrorCount returns the total event_parse_errors rows for a run,
// used to power UI warnings.
func (ix *Index) ParseErrorCount(projectID, runID string) (int, error) {
	var n int
	err := ix.db.QueryRow(`SELECT COUNT(*) FROM event_parse_errors WHERE project_id=? AND run_id=?`, projectID, runID).Scan(&n)
	return n, err
}

// AgentCounterRow is a projected agent_counters row.
type AgentCounterRow struct {
	AgentID      string
	RunsLaunched int
	RunsEnded    int
	RunsFailed   int
	TotalCostUSD float64
}

func (ix *Index) GetAgentCounters(agentID string) (*AgentCounterRow, error) {
	var c AgentCounterRow
	err := ix.db.QueryRow(`
		SELECT agent_id, runs_launched, runs_ended, runs_failed, total_cost_usd
		FROM agent_counters WHERE agent_id=?
	`, agentID).Scan(&c.AgentID, &c.RunsLaunched, &c.RunsEnded, &c.RunsFailed, &c.TotalCostUSD)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
