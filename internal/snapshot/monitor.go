// Package snapshot aggregates read-only views over a workspace's
// projection index (and, where the index has nothing to project, its
// canonical files directly): the run monitor, review inbox, PM/Gantt
// summary, colleague rollup, resource rollup, and usage reconciliation.
// Every aggregator here is a pure function over its inputs; none of
// them mutate workspace state.
package snapshot

import (
	"sort"
	"time"

	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// RunMonitorRow is one row of the run monitor view.
type RunMonitorRow struct {
	RunID                string     `json:"run_id"`
	ProjectID             string     `json:"project_id"`
	RunStatus             string     `json:"run_status"`
	LiveStatus            string     `json:"live_status,omitempty"`
	LastEventType         string     `json:"last_event_type,omitempty"`
	LastEventTsWallclock  *time.Time `json:"last_event_ts_wallclock,omitempty"`
	ParseErrorCount       int        `json:"parse_error_count"`
	CreatedAt             *time.Time `json:"created_at,omitempty"`
	BudgetDecisionCount   int        `json:"budget_decision_count"`
	BudgetExceededCount   int        `json:"budget_exceeded_count"`
}

// RunMonitor builds the monitor rows for one project, sorted by
// created_at descending. liveStatus, when non-nil, reports whether a
// run_id currently has a live session (fed by the session manager);
// rows for run_ids absent from the map get no live_status.
func RunMonitor(ws *workspace.Workspace, ix *index.Index, projectID string, liveStatus map[string]string) ([]RunMonitorRow, error) {
	runs, err := ix.ListRuns(projectID)
	if err != nil {
		return nil, err
	}

	project, err := ws.ReadProject(projectID)
	if err != nil {
		return nil, err
	}

	rows := make([]RunMonitorRow, 0, len(runs))
	for _, r := range runs {
		row := RunMonitorRow{
			RunID:     r.RunID,
			ProjectID: r.ProjectID,
			RunStatus: r.Status,
		}
		if !r.CreatedAt.IsZero() {
			createdAt := r.CreatedAt
			row.CreatedAt = &createdAt
		}
		if liveStatus != nil {
			row.LiveStatus = liveStatus[r.RunID]
		}

		last, err := index.ListEvents(ix, projectID, r.RunID, 0, 1, false)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			row.LastEventType = last[0].Type
			if !last[0].TsWallclock.IsZero() {
				ts := last[0].TsWallclock
				row.LastEventTsWallclock = &ts
			}
		}

		parseErrors, err := ix.ParseErrorCount(projectID, r.RunID)
		if err != nil {
			return nil, err
		}
		row.ParseErrorCount = parseErrors

		row.BudgetDecisionCount, row.BudgetExceededCount = budgetCounts(project, r.CostUSD)

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := rows[i].CreatedAt, rows[j].CreatedAt
		switch {
		case ci == nil && cj == nil:
			return false
		case ci == nil:
			return false
		case cj == nil:
			return true
		default:
			return ci.After(*cj)
		}
	})
	return rows, nil
}

// budgetCounts derives the budget_decision_count/budget_exceeded_count
// pair for one run from its project's configured budget. No dedicated
// budget-evaluation event exists upstream (session launch carries no
// budget check of its own), so the decision is made here at read time:
// a project with a budget configured always contributes one decision
// per run with recorded cost, and an exceeded decision when that cost
// crosses the hard ceiling.
func budgetCounts(project *workspace.Project, costUSD *float64) (decisions, exceeded int) {
	if project.Budget == nil || costUSD == nil {
		return 0, 0
	}
	decisions = 1
	if project.Budget.HardCostUSD > 0 && *costUSD > project.Budget.HardCostUSD {
		exceeded = 1
	}
	return decisions, exceeded
}
