package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

func seedProject(t *testing.T, ws *workspace.Workspace) {
	t.Helper()
	require.NoError(t, ws.WriteAgent(&workspace.Agent{
		SchemaVersion: 1, ID: "agent-1", Name: "Ada", Role: workspace.RoleWorker,
	}))
	require.NoError(t, ws.WriteProject(&workspace.Project{
		SchemaVersion: 1, ID: "p1", Name: "Rocket",
		Budget: &workspace.ProjectBudget{HardCostUSD: 1.0, SoftCostUSD: 0.5},
	}))

	require.NoError(t, ws.CreateRunDir("p1", "r1"))
	cost := 1.5
	require.NoError(t, ws.WriteRun(&workspace.Run{
		SchemaVersion: 1, RunID: "r1", ProjectID: "p1", AgentID: "agent-1",
		Provider: "claude", CreatedAt: time.Now().UTC(), Status: workspace.RunRunning,
		Spec:  workspace.RunSpec{Kind: "headless"},
		Usage: &workspace.Usage{TotalTokens: 1000, CostUSD: &cost},
	}))

	require.NoError(t, ws.WriteTask(&workspace.Task{
		TaskFrontmatter: workspace.TaskFrontmatter{
			SchemaVersion: 1, ID: "t1", ProjectID: "p1", Title: "Build booster",
			Status: workspace.TaskDone, Visibility: workspace.VisibilityTeam,
			Schedule: workspace.TaskSchedule{DurationDays: 2},
			Deliverables: []string{"a booster"}, AcceptanceCriteria: []string{"it fires"},
			Milestones: []workspace.Milestone{{ID: "m1", Status: workspace.MilestoneDone}},
		},
		Body: "## Contract\ndo the thing\n## Milestones\n- m1\n",
	}))
	require.NoError(t, ws.WriteTask(&workspace.Task{
		TaskFrontmatter: workspace.TaskFrontmatter{
			SchemaVersion: 1, ID: "t2", ProjectID: "p1", Title: "Launch",
			Status: workspace.TaskBlocked, Visibility: workspace.VisibilityTeam,
			Schedule: workspace.TaskSchedule{DurationDays: 3, DependsOnTaskIDs: []string{"t1"}},
			Deliverables: []string{"a launch"}, AcceptanceCriteria: []string{"it lifts off"},
			Milestones: []workspace.Milestone{{ID: "m1", Status: workspace.MilestonePending}},
		},
		Body: "## Contract\ndo the thing\n## Milestones\n- m1\n",
	}))

	require.NoError(t, ws.WriteArtifact(&workspace.Artifact{
		ArtifactFrontmatter: workspace.ArtifactFrontmatter{
			SchemaVersion: 1, Type: workspace.ArtifactMemoryDelta, ID: "a1",
			Title: "Remember the thing", CreatedAt: time.Now().UTC(),
			Visibility: workspace.VisibilityTeam, ProducedBy: "agent-1", RunID: "r1",
			ProjectID: "p1", TargetFile: "work/projects/p1/memory.md", Rationale: "because",
			Evidence: []workspace.EvidenceItem{{Kind: "run", RunID: "r1"}},
		},
		Body: "insert this",
	}))
}

func openIndex(t *testing.T, ws *workspace.Workspace) *index.Index {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	require.NoError(t, index.RebuildSqliteIndex(ix, ws))
	return ix
}

func TestRunMonitor_FlagsBudgetDecisionAndExceeded(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)
	ix := openIndex(t, ws)

	rows, err := RunMonitor(ws, ix, "p1", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "r1", rows[0].RunID)
	require.Equal(t, 1, rows[0].BudgetDecisionCount)
	require.Equal(t, 1, rows[0].BudgetExceededCount)
}

func TestRunMonitor_NoBudgetConfiguredYieldsZeroCounts(t *testing.T) {
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.WriteProject(&workspace.Project{SchemaVersion: 1, ID: "p1", Name: "Rocket"}))
	require.NoError(t, ws.CreateRunDir("p1", "r1"))
	require.NoError(t, ws.WriteRun(&workspace.Run{
		SchemaVersion: 1, RunID: "r1", ProjectID: "p1", AgentID: "agent-1",
		Provider: "claude", CreatedAt: time.Now().UTC(), Status: workspace.RunRunning,
		Spec: workspace.RunSpec{Kind: "headless"},
	}))
	ix := openIndex(t, ws)

	rows, err := RunMonitor(ws, ix, "p1", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 0, rows[0].BudgetDecisionCount)
	require.Equal(t, 0, rows[0].BudgetExceededCount)
}

func TestBuildReviewInbox_PopulatesPendingAndDecisions(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)
	ix := openIndex(t, ws)

	inbox, err := BuildReviewInbox(ws, ix, false)
	require.NoError(t, err)
	require.Len(t, inbox.Pending, 1)
	require.Equal(t, "a1", inbox.Pending[0].ArtifactID)
	require.Equal(t, "r1", inbox.Pending[0].RunID)
	require.Empty(t, inbox.RecentDecisions)
	require.False(t, inbox.ParseErrors.HasParseErrors)

	review := &workspace.Review{
		ID: "rev1", CreatedAt: time.Now().UTC(), ActorID: "director-1",
		ActorRole: workspace.RoleDirector, Decision: workspace.DecisionApproved,
		Subject: workspace.ReviewSubject{Kind: "memory_delta", ArtifactID: "a1"},
	}
	require.NoError(t, ws.WriteReview(review))
	require.NoError(t, index.ResolvePendingApproval(ix, "p1", "a1", review, "r1"))

	inbox, err = BuildReviewInbox(ws, ix, false)
	require.NoError(t, err)
	require.Empty(t, inbox.Pending)
	require.Len(t, inbox.RecentDecisions, 1)
	require.Equal(t, "p1", func() string {
		rows, err := ix.ListRecentDecisions(0)
		require.NoError(t, err)
		return rows[0].ProjectID
	}())
}

func TestBuildGanttChart_ComputesCriticalPath(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)

	chart, err := BuildGanttChart(ws, "p1")
	require.NoError(t, err)
	require.Equal(t, CPMOK, chart.CPMStatus)
	require.Len(t, chart.Bars, 2)

	var t1, t2 *GanttBar
	for i := range chart.Bars {
		switch chart.Bars[i].TaskID {
		case "t1":
			t1 = &chart.Bars[i]
		case "t2":
			t2 = &chart.Bars[i]
		}
	}
	require.NotNil(t, t1)
	require.NotNil(t, t2)
	require.True(t, t1.Critical)
	require.True(t, t2.Critical)
	require.Equal(t, 0.0, t1.EarliestStart)
	require.Equal(t, 2.0, t1.EarliestFinish)
	require.Equal(t, 2.0, t2.EarliestStart)
	require.Equal(t, 5.0, t2.EarliestFinish)
}

func TestBuildGanttChart_CycleReportsStatusWithoutRepair(t *testing.T) {
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.WriteProject(&workspace.Project{SchemaVersion: 1, ID: "p1", Name: "Rocket"}))
	require.NoError(t, ws.WriteTask(&workspace.Task{
		TaskFrontmatter: workspace.TaskFrontmatter{
			SchemaVersion: 1, ID: "t1", ProjectID: "p1", Title: "A",
			Status: workspace.TaskReady, Visibility: workspace.VisibilityTeam,
			Schedule: workspace.TaskSchedule{DurationDays: 1, DependsOnTaskIDs: []string{"t2"}},
			Deliverables: []string{"a"}, AcceptanceCriteria: []string{"done"},
			Milestones: []workspace.Milestone{{ID: "m1", Status: workspace.MilestonePending}},
		},
		Body: "## Contract\ndo the thing\n## Milestones\n- m1\n",
	}))
	require.NoError(t, ws.WriteTask(&workspace.Task{
		TaskFrontmatter: workspace.TaskFrontmatter{
			SchemaVersion: 1, ID: "t2", ProjectID: "p1", Title: "B",
			Status: workspace.TaskReady, Visibility: workspace.VisibilityTeam,
			Schedule: workspace.TaskSchedule{DurationDays: 1, DependsOnTaskIDs: []string{"t1"}},
			Deliverables: []string{"b"}, AcceptanceCriteria: []string{"done"},
			Milestones: []workspace.Milestone{{ID: "m1", Status: workspace.MilestonePending}},
		},
		Body: "## Contract\ndo the thing\n## Milestones\n- m1\n",
	}))

	chart, err := BuildGanttChart(ws, "p1")
	require.NoError(t, err)
	require.Equal(t, CPMDependencyCycle, chart.CPMStatus)
	require.Len(t, chart.Bars, 2)
}

func TestBuildGanttChart_DropsSelfReferenceAndMissingDependency(t *testing.T) {
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.WriteProject(&workspace.Project{SchemaVersion: 1, ID: "p1", Name: "Rocket"}))
	require.NoError(t, ws.WriteTask(&workspace.Task{
		TaskFrontmatter: workspace.TaskFrontmatter{
			SchemaVersion: 1, ID: "t1", ProjectID: "p1", Title: "A",
			Status: workspace.TaskReady, Visibility: workspace.VisibilityTeam,
			Schedule: workspace.TaskSchedule{DurationDays: 1, DependsOnTaskIDs: []string{"t1", "ghost"}},
			Deliverables: []string{"a"}, AcceptanceCriteria: []string{"done"},
			Milestones: []workspace.Milestone{{ID: "m1", Status: workspace.MilestonePending}},
		},
		Body: "## Contract\ndo the thing\n## Milestones\n- m1\n",
	}))

	chart, err := BuildGanttChart(ws, "p1")
	require.NoError(t, err)
	require.Equal(t, CPMOK, chart.CPMStatus)
	require.Len(t, chart.Bars, 1)
	require.Empty(t, chart.Bars[0].DependsOnTaskIDs)
	require.True(t, chart.Bars[0].Critical)
}

func TestBuildColleagues_RollsUpActiveRunsAndPendingReviews(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)
	ix := openIndex(t, ws)

	colleagues, err := BuildColleagues(ws, ix)
	require.NoError(t, err)
	require.Len(t, colleagues, 1)
	require.Equal(t, "agent-1", colleagues[0].AgentID)
	require.Equal(t, 1, colleagues[0].ActiveRuns)
	require.Equal(t, 1, colleagues[0].PendingReviews)
	require.Equal(t, ColleagueActive, colleagues[0].Status)
}

func TestBuildResourceSnapshot_RollsUpByProvider(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)
	ix := openIndex(t, ws)

	snap, err := BuildResourceSnapshot(ws, ix)
	require.NoError(t, err)
	require.Equal(t, 1, snap.TotalRuns)
	require.Equal(t, 1000, snap.TotalTokens)
	require.InDelta(t, 1.5, snap.TotalCostUSD, 0.0001)
	require.Len(t, snap.ByProvider, 1)
	require.Equal(t, "claude", snap.ByProvider[0].Provider)
	require.Equal(t, "1,000", snap.TotalTokensHuman)
	require.Equal(t, "$1.5", snap.TotalCostHuman)
	require.Equal(t, "1,000", snap.ByProvider[0].TotalTokensHuman)
}

func TestBuildPMSnapshot_IncludesGanttForSelectedProject(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)
	ix := openIndex(t, ws)

	snap, err := BuildPMSnapshot(ws, ix, "p1")
	require.NoError(t, err)
	require.Len(t, snap.Projects, 1)
	require.Equal(t, 50.0, snap.Projects[0].ProgressPct)
	require.Equal(t, 1, snap.Projects[0].BlockedTasks)
	require.NotEmpty(t, snap.Projects[0].RiskFlags)
	require.NotNil(t, snap.Gantt)
	require.Equal(t, "p1", snap.Gantt.ProjectID)
}

func TestBuildReconciliation_ComputesDeltasAgainstImportedStatement(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)
	ix := openIndex(t, ws)

	start := time.Now().UTC().Add(-24 * time.Hour)
	end := time.Now().UTC().Add(24 * time.Hour)

	tokens := 900
	statements := []BillingStatement{
		{Provider: "claude", PeriodStart: start, PeriodEnd: end, TotalTokens: &tokens, CostUSD: 1.0},
	}
	data, err := json.Marshal(statements)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(ws.ReconciliationStatements()), 0o755))
	require.NoError(t, os.WriteFile(ws.ReconciliationStatements(), data, 0o644))

	rows, err := BuildReconciliation(ws, ix, start, end)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "claude", rows[0].Provider)
	require.NotNil(t, rows[0].TokenDelta)
	require.Equal(t, 100, *rows[0].TokenDelta)
	require.InDelta(t, 0.5, rows[0].CostDeltaUSD, 0.0001)
}

func TestBuildReconciliation_NoStatementFileYieldsInternalOnlyRows(t *testing.T) {
	ws := workspace.New(t.TempDir())
	seedProject(t, ws)
	ix := openIndex(t, ws)

	start := time.Now().UTC().Add(-24 * time.Hour)
	end := time.Now().UTC().Add(24 * time.Hour)

	rows, err := BuildReconciliation(ws, ix, start, end)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].StatementTokens)
	require.Equal(t, 0.0, rows[0].StatementCostUSD)
}
