// Package recovery sweeps a workspace's runs for crash orphans: a
// run.yaml still reading "running" with no process in this control
// plane actually watching it, almost always left behind by a restart
// that happened mid-run. The sweep transitions each orphan to failed
// and appends run.recovered_from_crash so downstream aggregators see
// the same run exactly once, in its terminal state.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// LiveChecker reports whether a (project, run) pair currently has a
// session this process is actively watching. Supplied by the caller
// that wires a Service together with the session package, keeping
// recovery from importing session directly.
type LiveChecker func(projectID, runID string) bool

type observedWorkspace struct {
	ws  *workspace.Workspace
	ix  *index.Index
	bus *eventlog.Bus
}

// Service runs the crash-reconciliation sweep on a cron schedule across
// every workspace handed to ObserveWorkspace.
type Service struct {
	logger  *slog.Logger
	live    LiveChecker
	cron    *cron.Cron
	sweeping sync.Mutex // single-flight: held for the duration of one sweep

	mu      sync.Mutex
	workspaces map[string]*observedWorkspace
}

// NewService constructs a Service. live may be nil, in which case every
// running run older than StartupGracePeriod is treated as an orphan
// (used in tests and for a control plane that tracks no in-process
// sessions of its own, e.g. right after a cold start).
func NewService(logger *slog.Logger, live LiveChecker) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:     logger,
		live:       live,
		workspaces: make(map[string]*observedWorkspace),
	}
}

// ObserveWorkspace registers ws for sweeping. Idempotent: re-observing
// an already-registered root replaces its index/bus handles.
func (s *Service) ObserveWorkspace(ws *workspace.Workspace, ix *index.Index, bus *eventlog.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.Root] = &observedWorkspace{ws: ws, ix: ix, bus: bus}
}

// Start schedules the sweep on the given cron spec (standard 5-field
// syntax, or the "@every 5m"-style shorthand robfig/cron also accepts)
// and begins running it in the background. Call Close to stop.
func (s *Service) Start(spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return err
	}
	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() { s.SweepAll(context.Background()) }))
	c.Start()
	s.cron = c
	return nil
}

// Close stops the cron schedule. In-flight sweeps finish on their own;
// Close does not wait for them.
func (s *Service) Close() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// SweepResult summarizes one sweep across every observed workspace.
type SweepResult struct {
	SkippedDueToRunning bool                    `json:"skipped_due_to_running"`
	Recovered           []RecoveredRun          `json:"recovered,omitempty"`
}

// RecoveredRun identifies one run this sweep transitioned to failed.
type RecoveredRun struct {
	WorkspaceRoot string `json:"workspace_root"`
	ProjectID     string `json:"project_id"`
	RunID         string `json:"run_id"`
}

// SweepAll runs Sweep against every observed workspace. Overlapping
// calls (a scheduled sweep racing a manual one) return
// {skipped_due_to_running:true} immediately rather than queuing, the
// same single-flight discipline heartbeat's tick loop uses.
func (s *Service) SweepAll(ctx context.Context) (*SweepResult, error) {
	if !s.sweeping.TryLock() {
		return &SweepResult{SkippedDueToRunning: true}, nil
	}
	defer s.sweeping.Unlock()

	s.mu.Lock()
	targets := make([]*observedWorkspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	result := &SweepResult{}
	for _, w := range targets {
		recovered, err := s.sweepWorkspace(w)
		if err != nil {
			s.logger.Error("recovery: sweep failed", "workspace", w.ws.Root, "error", err)
			continue
		}
		result.Recovered = append(result.Recovered, recovered...)
	}
	if len(result.Recovered) > 0 {
		s.logger.Info("recovery: swept crash orphans", "count", len(result.Recovered))
	}
	return result, nil
}

func (s *Service) sweepWorkspace(w *observedWorkspace) ([]RecoveredRun, error) {
	if err := index.SyncSqliteIndex(w.ix, w.ws); err != nil {
		return nil, err
	}

	projectIDs, err := w.ws.ListProjectIDs()
	if err != nil {
		return nil, err
	}

	var recovered []RecoveredRun
	for _, projectID := range projectIDs {
		runs, err := w.ix.ListRuns(projectID)
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			if r.Status != string(workspace.RunRunning) {
				continue
			}
			if !r.CreatedAt.IsZero() && time.Since(r.CreatedAt) < StartupGracePeriod {
				continue
			}
			if s.live != nil && s.live(projectID, r.RunID) {
				continue
			}
			if err := s.recoverRun(w, projectID, r.RunID); err != nil {
				s.logger.Error("recovery: failed to recover run", "project_id", projectID, "run_id", r.RunID, "error", err)
				continue
			}
			recovered = append(recovered, RecoveredRun{WorkspaceRoot: w.ws.Root, ProjectID: projectID, RunID: r.RunID})
		}
	}
	return recovered, nil
}

// recoverRun transitions one orphaned running run to failed and
// appends run.recovered_from_crash. The event carries no actor beyond
// the system itself: no agent authored this transition, the absence of
// one did.
func (s *Service) recoverRun(w *observedWorkspace, projectID, runID string) error {
	run, err := w.ws.ReadRun(projectID, runID)
	if err != nil {
		return err
	}

	if _, err := eventlog.Append(w.ws.EventsJSONL(projectID, runID), eventlog.Envelope{
		RunID:      runID,
		Actor:      "system.recovery",
		Visibility: eventlog.VisibilityOrg,
		Type:       "run.recovered_from_crash",
		Payload:    map[string]any{"previous_status": string(run.Status)},
	}, w.bus); err != nil {
		return err
	}

	run.Status = workspace.RunFailed
	if err := w.ws.WriteRun(run); err != nil {
		return err
	}

	return index.SyncSqliteIndex(w.ix, w.ws)
}

// StartupGracePeriod is the minimum time a run must have been created
// before SweepAll is willing to recover it, avoiding a race where a
// run is still in LaunchSession's opening event sequence when a sweep
// fires moments after the control plane itself just restarted.
const StartupGracePeriod = 30 * time.Second
