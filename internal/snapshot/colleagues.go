package snapshot

import (
	"sort"

	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// ColleagueStatus is the discriminated status a colleague row carries,
// derived from its counters: an active run outranks a pending review,
// which outranks plain idleness.
type ColleagueStatus string

const (
	ColleagueActive      ColleagueStatus = "active"
	ColleagueNeedsReview ColleagueStatus = "needs_review"
	ColleagueIdle        ColleagueStatus = "idle"
)

// Colleague is one per-agent rollup row.
type Colleague struct {
	AgentID        string          `json:"agent_id"`
	Name           string          `json:"name"`
	Role           workspace.Role  `json:"role"`
	Status         ColleagueStatus `json:"status"`
	ActiveRuns     int             `json:"active_runs"`
	PendingReviews int             `json:"pending_reviews"`
	LastSeen       string          `json:"last_seen,omitempty"`
}

// colleagueRoleRank mirrors workspace.Role's management hierarchy, used only to
// break sort ties; a higher rank sorts first among otherwise-equal rows.
var colleagueRoleRank = map[workspace.Role]int{
	workspace.RoleWorker:   0,
	workspace.RoleManager:  1,
	workspace.RoleDirector: 2,
	workspace.RoleCEO:      3,
	workspace.RoleHuman:    4,
}

// BuildColleagues derives per-agent counters from the monitor and review
// inbox views across every project in the workspace, sorted
// active_runs desc, pending_reviews desc, last_seen desc, role rank
// desc, name asc.
func BuildColleagues(ws *workspace.Workspace, ix *index.Index) ([]Colleague, error) {
	agentIDs, err := ws.ListAgentIDs()
	if err != nil {
		return nil, err
	}

	byAgent := make(map[string]*Colleague, len(agentIDs))
	for _, id := range agentIDs {
		a, err := ws.ReadAgent(id)
		if err != nil {
			continue
		}
		byAgent[id] = &Colleague{AgentID: id, Name: a.Name, Role: a.Role}
	}

	projectIDs, err := ws.ListProjectIDs()
	if err != nil {
		return nil, err
	}
	for _, projectID := range projectIDs {
		rows, err := RunMonitor(ws, ix, projectID, nil)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			run, err := ws.ReadRun(projectID, row.RunID)
			if err != nil {
				continue
			}
			c, ok := byAgent[run.AgentID]
			if !ok {
				continue
			}
			if row.RunStatus == string(workspace.RunRunning) {
				c.ActiveRuns++
			}
			if row.LastEventTsWallclock != nil {
				ts := row.LastEventTsWallclock.Format("2006-01-02T15:04:05Z07:00")
				if c.LastSeen == "" || ts > c.LastSeen {
					c.LastSeen = ts
				}
			}
		}
	}

	inbox, err := BuildReviewInbox(ws, ix, false)
	if err != nil {
		return nil, err
	}
	for _, p := range inbox.Pending {
		if a, err := ws.ReadArtifact(p.ProjectID, p.ArtifactID); err == nil {
			if c, ok := byAgent[a.ProducedBy]; ok {
				c.PendingReviews++
			}
		}
	}

	out := make([]Colleague, 0, len(byAgent))
	for _, c := range byAgent {
		switch {
		case c.ActiveRuns > 0:
			c.Status = ColleagueActive
		case c.PendingReviews > 0:
			c.Status = ColleagueNeedsReview
		default:
			c.Status = ColleagueIdle
		}
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ActiveRuns != b.ActiveRuns {
			return a.ActiveRuns > b.ActiveRuns
		}
		if a.PendingReviews != b.PendingReviews {
			return a.PendingReviews > b.PendingReviews
		}
		if a.LastSeen != b.LastSeen {
			return a.LastSeen > b.LastSeen
		}
		if colleagueRoleRank[a.Role] != colleagueRoleRank[b.Role] {
			return colleagueRoleRank[a.Role] > colleagueRoleRank[b.Role]
		}
		return a.Name < b.Name
	})
	return out, nil
}
