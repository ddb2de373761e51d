package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

func seedWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.CreateRunDir("p1", "r1"))

	cost := 0.42
	require.NoError(t, ws.WriteRun(&workspace.Run{
		SchemaVersion: 1,
		RunID:         "r1",
		ProjectID:     "p1",
		AgentID:       "agent-1",
		Provider:      "claude",
		CreatedAt:     time.Now().UTC(),
		Status:        workspace.RunRunning,
		Spec:          workspace.RunSpec{Kind: "headless"},
	}))

	_, err := eventlog.Append(ws.EventsJSONL("p1", "r1"), eventlog.Envelope{
		RunID:      "r1",
		Actor:      "agent-1",
		Visibility: eventlog.VisibilityTeam,
		Type:       "run.started",
		Payload:    map[string]any{"argv": []any{"echo", "hi"}},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, ws.WriteTask(&workspace.Task{
		TaskFrontmatter: workspace.TaskFrontmatter{
			SchemaVersion: 1,
			ID:            "t1",
			ProjectID:     "p1",
			Title:         "Ship it",
			Status:        workspace.TaskDraft,
			Visibility:    workspace.VisibilityTeam,
			Milestones: []workspace.Milestone{
				{ID: "m1", Title: "Land patch", Kind: workspace.MilestoneCoding, Status: workspace.MilestonePending},
			},
		},
		Body: "## Contract\ndo the thing\n## Milestones\n- m1\n",
	}))

	require.NoError(t, ws.WriteArtifact(&workspace.Artifact{
		ArtifactFrontmatter: workspace.ArtifactFrontmatter{
			SchemaVersion: 1,
			Type:          workspace.ArtifactMemoryDelta,
			ID:            "a1",
			Title:         "Remember the thing",
			CreatedAt:     time.Now().UTC(),
			Visibility:    workspace.VisibilityTeam,
			ProducedBy:    "agent-1",
			RunID:         "r1",
			ProjectID:     "p1",
			TargetFile:    "work/projects/p1/memory.md",
			Rationale:     "because",
			Evidence:      []workspace.EvidenceItem{{Kind: "run", RunID: "r1"}},
		},
		Body: "insert this",
	}))

	require.NoError(t, ws.WriteReview(&workspace.Review{
		ID:        "rev1",
		CreatedAt: time.Now().UTC(),
		ActorID:   "director-1",
		ActorRole: workspace.RoleDirector,
		Decision:  workspace.DecisionApproved,
		Subject:   workspace.ReviewSubject{Kind: "memory_delta", ArtifactID: "a1"},
	}))

	return ws
}

func TestRebuildSqliteIndex_ProjectsEverything(t *testing.T) {
	ws := seedWorkspace(t)
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, RebuildSqliteIndex(ix, ws))

	runs, err := ix.ListRuns("p1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "agent-1", runs[0].AgentID)

	events, err := ListEvents(ix, "p1", "r1", 0, 0, true)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "run.started", events[0].Type)

	artifacts, err := ix.ListArtifactsByType("p1", "memory_delta")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	pending, err := ix.ListPendingApprovals("p1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "a1", pending[0].ArtifactID)

	tasks, err := ix.ListTasks("p1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	milestones, err := ix.ListMilestones("p1", "t1")
	require.NoError(t, err)
	require.Len(t, milestones, 1)
	require.True(t, milestones[0].RequiresPatch)
	require.True(t, milestones[0].RequiresTests)

	reviews, err := ix.ListReviews(0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	counters, err := ix.GetAgentCounters("agent-1")
	require.NoError(t, err)
	require.Equal(t, 1, counters.RunsLaunched)
}

func TestSyncSqliteIndex_IncrementalAppendsNewEvents(t *testing.T) {
	ws := seedWorkspace(t)
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, RebuildSqliteIndex(ix, ws))

	_, err = eventlog.Append(ws.EventsJSONL("p1", "r1"), eventlog.Envelope{
		RunID:      "r1",
		Actor:      "agent-1",
		Visibility: eventlog.VisibilityTeam,
		Type:       "run.ended",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, SyncSqliteIndex(ix, ws))

	events, err := ListEvents(ix, "p1", "r1", 0, 0, true)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "run.ended", events[1].Type)
}

func TestSyncSqliteIndex_ProjectsNewlyAddedRun(t *testing.T) {
	ws := seedWorkspace(t)
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer ix.Close()
	require.NoError(t, RebuildSqliteIndex(ix, ws))

	require.NoError(t, ws.CreateRunDir("p1", "r2"))
	require.NoError(t, ws.WriteRun(&workspace.Run{
		SchemaVersion: 1, RunID: "r2", ProjectID: "p1", AgentID: "agent-2",
		Provider: "claude", CreatedAt: time.Now().UTC(), Status: workspace.RunRunning,
		Spec: workspace.RunSpec{Kind: "headless"},
	}))
	require.NoError(t, SyncSqliteIndex(ix, ws))

	runs, err := ix.ListRuns("p1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestWorker_NotifyDebouncesAndFlushes(t *testing.T) {
	ws := seedWorkspace(t)
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer ix.Close()
	require.NoError(t, RebuildSqliteIndex(ix, ws))

	w := NewWorker(WorkerConfig{DebounceInterval: 50 * time.Millisecond, MinSyncInterval: 0})
	w.Register(ws, ix)

	w.Notify(ws.Root)
	w.Notify(ws.Root)
	status := w.Status()
	require.Equal(t, int64(2), status.TotalNotifyCalls)

	w.Flush()
	status = w.Status()
	require.Equal(t, 0, status.PendingWorkspaces)

	w.Close()
	w.Notify(ws.Root)
	status = w.Status()
	require.False(t, status.Enabled)
}
