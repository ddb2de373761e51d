package snapshot

import (
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// ProjectSummary is one project's row in the portfolio-wide PM view.
type ProjectSummary struct {
	ProjectID     string   `json:"project_id"`
	Name          string   `json:"name"`
	ProgressPct   float64  `json:"progress_pct"`
	BlockedTasks  int      `json:"blocked_tasks"`
	ActiveRuns    int      `json:"active_runs"`
	PendingReviews int     `json:"pending_reviews"`
	RiskFlags     []string `json:"risk_flags,omitempty"`
}

// PMSnapshot is the full portfolio PM view, plus an optional Gantt chart
// for one selected project.
type PMSnapshot struct {
	Projects []ProjectSummary `json:"projects"`
	Gantt    *GanttChart      `json:"gantt,omitempty"`
}

// BuildPMSnapshot summarizes every project in the workspace and, when
// selectedProjectID is non-empty, attaches that project's CPM-derived
// Gantt chart.
func BuildPMSnapshot(ws *workspace.Workspace, ix *index.Index, selectedProjectID string) (*PMSnapshot, error) {
	projectIDs, err := ws.ListProjectIDs()
	if err != nil {
		return nil, err
	}

	snap := &PMSnapshot{}
	for _, projectID := range projectIDs {
		summary, err := buildProjectSummary(ws, ix, projectID)
		if err != nil {
			return nil, err
		}
		snap.Projects = append(snap.Projects, *summary)
	}

	if selectedProjectID != "" {
		chart, err := BuildGanttChart(ws, selectedProjectID)
		if err != nil {
			return nil, err
		}
		snap.Gantt = chart
	}
	return snap, nil
}

func buildProjectSummary(ws *workspace.Workspace, ix *index.Index, projectID string) (*ProjectSummary, error) {
	project, err := ws.ReadProject(projectID)
	if err != nil {
		return nil, err
	}
	summary := &ProjectSummary{ProjectID: projectID, Name: project.Name}

	taskIDs, err := ws.ListTaskIDs(projectID)
	if err != nil {
		return nil, err
	}
	var done int
	for _, id := range taskIDs {
		t, err := ws.ReadTask(projectID, id)
		if err != nil {
			continue
		}
		if t.Status == workspace.TaskDone {
			done++
		}
		if t.Status == workspace.TaskBlocked {
			summary.BlockedTasks++
		}
	}
	if len(taskIDs) > 0 {
		summary.ProgressPct = 100 * float64(done) / float64(len(taskIDs))
	}

	runs, err := RunMonitor(ws, ix, projectID, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.RunStatus == string(workspace.RunRunning) {
			summary.ActiveRuns++
		}
		if r.BudgetExceededCount > 0 {
			summary.RiskFlags = append(summary.RiskFlags, "budget_exceeded:"+r.RunID)
		}
		if r.ParseErrorCount > 0 {
			summary.RiskFlags = append(summary.RiskFlags, "parse_errors:"+r.RunID)
		}
	}

	pendingRows, err := ix.ListPendingApprovals(projectID)
	if err != nil {
		return nil, err
	}
	summary.PendingReviews = len(pendingRows)

	if summary.BlockedTasks > 0 {
		summary.RiskFlags = append(summary.RiskFlags, "blocked_tasks")
	}

	return summary, nil
}
