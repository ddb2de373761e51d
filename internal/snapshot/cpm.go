package snapshot

import (
	"sort"

	"github.com/antigravity-dev/agentco/internal/workspace"
)

// CPMStatus reports whether a task's schedule bar was computed cleanly
// or whether its dependency graph had to be short-circuited.
type CPMStatus string

const (
	CPMOK               CPMStatus = "ok"
	CPMDependencyCycle  CPMStatus = "dependency_cycle"
)

// cpmEpsilon is the slack tolerance below which a task is considered
// critical; float64 day-counts accumulate rounding noise across a chain
// of forward/backward passes, so an exact zero comparison is too strict.
const cpmEpsilon = 1e-6

// GanttBar is one row of a project's CPM-derived Gantt chart.
type GanttBar struct {
	TaskID           string  `json:"task_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	DurationDays     float64 `json:"duration_days"`
	EarliestStart    float64 `json:"earliest_start"`
	EarliestFinish   float64 `json:"earliest_finish"`
	LatestStart      float64 `json:"latest_start"`
	LatestFinish     float64 `json:"latest_finish"`
	Slack            float64 `json:"slack"`
	Critical         bool    `json:"critical"`
	DependsOnTaskIDs []string `json:"depends_on_task_ids,omitempty"`
}

// GanttChart is the full CPM result for one project: its bars in input
// order, plus a cpm_status flag set to dependency_cycle when the
// dependency graph could not be topologically sorted. Per the read-only
// aggregator contract, a cycle is reported, not repaired: bars still get
// emitted in input order with zeroed schedule fields.
type GanttChart struct {
	ProjectID string     `json:"project_id"`
	CPMStatus CPMStatus  `json:"cpm_status"`
	Bars      []GanttBar `json:"bars"`
}

// BuildGanttChart computes the critical-path schedule for one project's
// tasks. Task dependency edges live only in each task's workspace-file
// schedule (TaskSchedule.DependsOnTaskIDs); the projection index has no
// dependency columns, so this reads tasks directly via
// ws.ListTaskIDs/ws.ReadTask rather than through the index.
func BuildGanttChart(ws *workspace.Workspace, projectID string) (*GanttChart, error) {
	taskIDs, err := ws.ListTaskIDs(projectID)
	if err != nil {
		return nil, err
	}

	tasks := make([]*workspace.Task, 0, len(taskIDs))
	byID := make(map[string]*workspace.Task, len(taskIDs))
	for _, id := range taskIDs {
		t, err := ws.ReadTask(projectID, id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}

	chart := &GanttChart{ProjectID: projectID, CPMStatus: CPMOK}

	// Drop self-references and edges to missing tasks before doing
	// anything else, per the aggregator's edge-case contract.
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		var kept []string
		for _, dep := range t.Schedule.DependsOnTaskIDs {
			if dep == t.ID {
				continue
			}
			if _, ok := byID[dep]; !ok {
				continue
			}
			kept = append(kept, dep)
		}
		deps[t.ID] = kept
	}

	order, ok := topoSort(tasks, deps)
	if !ok {
		chart.CPMStatus = CPMDependencyCycle
		for _, t := range tasks {
			chart.Bars = append(chart.Bars, GanttBar{
				TaskID:           t.ID,
				Title:            t.Title,
				Status:           string(t.Status),
				DurationDays:     t.Schedule.DurationDays,
				DependsOnTaskIDs: deps[t.ID],
			})
		}
		return chart, nil
	}

	earliestStart := make(map[string]float64, len(tasks))
	earliestFinish := make(map[string]float64, len(tasks))
	for _, id := range order {
		t := byID[id]
		var es float64
		for _, dep := range deps[id] {
			if earliestFinish[dep] > es {
				es = earliestFinish[dep]
			}
		}
		earliestStart[id] = es
		earliestFinish[id] = es + t.Schedule.DurationDays
	}

	span := 0.0
	for _, id := range order {
		if earliestFinish[id] > span {
			span = earliestFinish[id]
		}
	}

	dependents := make(map[string][]string, len(tasks))
	for id, ds := range deps {
		for _, dep := range ds {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	latestFinish := make(map[string]float64, len(tasks))
	latestStart := make(map[string]float64, len(tasks))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		t := byID[id]
		lf := span
		if succ := dependents[id]; len(succ) > 0 {
			lf = latestStart[succ[0]]
			for _, s := range succ[1:] {
				if latestStart[s] < lf {
					lf = latestStart[s]
				}
			}
		}
		latestFinish[id] = lf
		latestStart[id] = lf - t.Schedule.DurationDays
	}

	for _, t := range tasks {
		id := t.ID
		slack := latestStart[id] - earliestStart[id]
		chart.Bars = append(chart.Bars, GanttBar{
			TaskID:           id,
			Title:            t.Title,
			Status:           string(t.Status),
			DurationDays:     t.Schedule.DurationDays,
			EarliestStart:    earliestStart[id],
			EarliestFinish:   earliestFinish[id],
			LatestStart:      latestStart[id],
			LatestFinish:     latestFinish[id],
			Slack:            slack,
			Critical:         slack < cpmEpsilon && slack > -cpmEpsilon,
			DependsOnTaskIDs: deps[id],
		})
	}
	return chart, nil
}

// topoSort runs Kahn's algorithm over the already-cleaned dependency
// map. It returns ok=false on a cycle rather than attempting repair.
// Ties among ready nodes break by input order so output is deterministic.
func topoSort(tasks []*workspace.Task, deps map[string][]string) ([]string, bool) {
	indexOf := make(map[string]int, len(tasks))
	for i, t := range tasks {
		indexOf[t.ID] = i
	}

	inDegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] = 0
	}
	for id, ds := range deps {
		inDegree[id] = len(ds)
	}

	dependents := make(map[string][]string, len(tasks))
	for id, ds := range deps {
		for _, dep := range ds {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return indexOf[ready[i]] < indexOf[ready[j]] })

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var newlyReady []string
		for _, succ := range dependents[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newlyReady = append(newlyReady, succ)
			}
		}
		sort.Slice(newlyReady, func(i, j int) bool { return indexOf[newlyReady[i]] < indexOf[newlyReady[j]] })
		ready = append(ready, newlyReady...)
	}

	return order, len(order) == len(tasks)
}
