package recovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

func newOrphanedWorkspace(t *testing.T, createdAt time.Time) (*workspace.Workspace, *index.Index) {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.CreateRunDir("p1", "r1"))
	require.NoError(t, ws.WriteRun(&workspace.Run{
		SchemaVersion: 1, RunID: "r1", ProjectID: "p1", AgentID: "agent-1",
		Provider: "claude", CreatedAt: createdAt, Status: workspace.RunRunning,
		Spec: workspace.RunSpec{Kind: "headless"},
	}))

	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	require.NoError(t, index.RebuildSqliteIndex(ix, ws))
	return ws, ix
}

func TestSweepAll_RecoversOrphanedRunningRun(t *testing.T) {
	ws, ix := newOrphanedWorkspace(t, time.Now().UTC().Add(-time.Hour))
	bus := eventlog.NewBus()

	svc := NewService(nil, nil)
	svc.ObserveWorkspace(ws, ix, bus)

	result, err := svc.SweepAll(context.Background())
	require.NoError(t, err)
	require.False(t, result.SkippedDueToRunning)
	require.Len(t, result.Recovered, 1)
	require.Equal(t, "r1", result.Recovered[0].RunID)

	run, err := ws.ReadRun("p1", "r1")
	require.NoError(t, err)
	require.Equal(t, workspace.RunFailed, run.Status)

	events, err := index.ListEvents(ix, "p1", "r1", 0, 0, true)
	require.NoError(t, err)
	require.Equal(t, "run.recovered_from_crash", events[len(events)-1].Type)
}

func TestSweepAll_SkipsRunWithLiveSession(t *testing.T) {
	ws, ix := newOrphanedWorkspace(t, time.Now().UTC().Add(-time.Hour))
	bus := eventlog.NewBus()

	svc := NewService(nil, func(projectID, runID string) bool {
		return projectID == "p1" && runID == "r1"
	})
	svc.ObserveWorkspace(ws, ix, bus)

	result, err := svc.SweepAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Recovered)

	run, err := ws.ReadRun("p1", "r1")
	require.NoError(t, err)
	require.Equal(t, workspace.RunRunning, run.Status)
}

func TestSweepAll_SkipsRunWithinStartupGracePeriod(t *testing.T) {
	ws, ix := newOrphanedWorkspace(t, time.Now().UTC())
	bus := eventlog.NewBus()

	svc := NewService(nil, nil)
	svc.ObserveWorkspace(ws, ix, bus)

	result, err := svc.SweepAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Recovered)

	run, err := ws.ReadRun("p1", "r1")
	require.NoError(t, err)
	require.Equal(t, workspace.RunRunning, run.Status)
}

func TestSweepAll_OverlappingCallSkipsRatherThanQueues(t *testing.T) {
	ws, ix := newOrphanedWorkspace(t, time.Now().UTC().Add(-time.Hour))
	bus := eventlog.NewBus()

	svc := NewService(nil, nil)
	svc.ObserveWorkspace(ws, ix, bus)

	require.True(t, svc.sweeping.TryLock())
	result, err := svc.SweepAll(context.Background())
	svc.sweeping.Unlock()

	require.NoError(t, err)
	require.True(t, result.SkippedDueToRunning)
}
