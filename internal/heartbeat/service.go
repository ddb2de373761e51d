package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// LaunchJobFunc spawns a new run for a launch_job action. It is supplied
// by the caller that wires a Service together with the session package,
// keeping heartbeat from importing session directly.
type LaunchJobFunc func(ws *workspace.Workspace, agentID string, a Action) error

type workspaceLoop struct {
	ws      *workspace.Workspace
	ix      *index.Index
	bus     *eventlog.Bus
	cancel  context.CancelFunc
	ticking sync.Mutex // single-flight: held for the duration of one tick
}

// Status is the snapshot returned by GetStatus for one observed workspace.
type Status struct {
	WorkspaceRoot string `json:"workspace_root"`
	Running       bool   `json:"running"`
	Stats         Stats  `json:"stats"`
}

// Service runs the heartbeat loop for every workspace handed to
// observeWorkspace, each on its own ticker, each single-flighted so an
// overlapping tick is skipped rather than queued.
type Service struct {
	logger    *slog.Logger
	launchJob LaunchJobFunc

	mu    sync.Mutex
	loops map[string]*workspaceLoop
}

// NewService constructs a Service. launchJob may be nil; launch_job
// actions then fail fast with a fatal error instead of silently no-oping.
func NewService(logger *slog.Logger, launchJob LaunchJobFunc) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:    logger,
		launchJob: launchJob,
		loops:     make(map[string]*workspaceLoop),
	}
}

// ObserveWorkspace registers ws (and its index and event bus) for
// periodic ticking, starting its loop if this is the first reference.
// Called for its side effect whenever an RPC method carrying
// workspace_dir is handled, so a workspace is ticked from the moment
// any client first references it.
func (s *Service) ObserveWorkspace(ctx context.Context, ws *workspace.Workspace, ix *index.Index, bus *eventlog.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loops[ws.Root]; ok {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	loop := &workspaceLoop{ws: ws, ix: ix, bus: bus, cancel: cancel}
	s.loops[ws.Root] = loop
	go s.run(loopCtx, loop)
}

// SetConfig overwrites a workspace's heartbeat config, taking effect at
// the next tick interval re-read: the running ticker re-reads config
// every cycle, so a changed interval applies without a restart.
func (s *Service) SetConfig(ws *workspace.Workspace, cfg Config) error {
	return SaveConfig(ws, cfg)
}

// GetStatus reports whether a tick is currently in flight and the
// accumulated stats for every observed workspace.
func (s *Service) GetStatus() (map[string]Status, error) {
	s.mu.Lock()
	loops := make([]*workspaceLoop, 0, len(s.loops))
	for _, l := range s.loops {
		loops = append(loops, l)
	}
	s.mu.Unlock()

	out := make(map[string]Status, len(loops))
	for _, l := range loops {
		st, err := LoadState(l.ws)
		if err != nil {
			return nil, err
		}
		running := !l.ticking.TryLock()
		if !running {
			l.ticking.Unlock()
		}
		out[l.ws.Root] = Status{WorkspaceRoot: l.ws.Root, Running: running, Stats: st.Stats}
	}
	return out, nil
}

// Close stops every workspace's ticker loop. In-flight ticks finish on
// their own; Close does not wait for them.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loops {
		l.cancel()
	}
	s.loops = make(map[string]*workspaceLoop)
}

func (s *Service) run(ctx context.Context, loop *workspaceLoop) {
	cfg, err := LoadConfig(loop.ws)
	if err != nil {
		s.logger.Error("heartbeat: failed to load config, using defaults", "workspace", loop.ws.Root, "error", err)
		cfg = DefaultConfig()
	}
	interval := time.Duration(cfg.TickInterval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	s.logger.Info("heartbeat started", "workspace", loop.ws.Root, "tick_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("heartbeat stopping", "workspace", loop.ws.Root)
			return
		case <-ticker.C:
			if _, err := s.tickWorkspace(ctx, loop, TickOptions{Reason: "scheduled"}); err != nil {
				s.logger.Error("heartbeat tick failed", "workspace", loop.ws.Root, "error", err)
			}
			// Re-read interval in case config was hot-reloaded.
			newCfg, err := LoadConfig(loop.ws)
			if err == nil {
				newInterval := time.Duration(newCfg.TickInterval) * time.Second
				if newInterval > 0 && newInterval != interval {
					ticker.Reset(newInterval)
					interval = newInterval
					s.logger.Info("heartbeat tick interval changed", "workspace", loop.ws.Root, "tick_interval", interval)
				}
			}
		}
	}
}

// TickOptions parameterizes an explicit tickWorkspace invocation, e.g.
// from an RPC-triggered manual tick.
type TickOptions struct {
	DryRun bool
	Reason string
}

// TickResult summarizes one tick for the caller.
type TickResult struct {
	SkippedDueToRunning bool                       `json:"skipped_due_to_running"`
	WokeTargets         []wakeTarget               `json:"-"`
	WokeCount           int                        `json:"woke_count"`
	Outcomes            map[string][]ActionOutcome `json:"outcomes,omitempty"`
}

// Tick runs one manual scoring/wake/report cycle for ws, which must
// already be observed (ObserveWorkspace must have been called for it at
// least once). It is the entry point an RPC-triggered manual tick uses.
func (s *Service) Tick(ctx context.Context, ws *workspace.Workspace, opts TickOptions) (*TickResult, error) {
	s.mu.Lock()
	loop, ok := s.loops[ws.Root]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("heartbeat: workspace %s is not observed", ws.Root)
	}
	return s.tickWorkspace(ctx, loop, opts)
}

// tickWorkspace runs one scoring/wake/report cycle for a single
// workspace. Overlapping calls (a scheduled tick racing a manual one)
// return {skipped_due_to_running:true} immediately instead of queuing.
// Single-flight is an in-process mutex, not a distributed lock, since
// one control-plane process owns a given workspace.
func (s *Service) tickWorkspace(ctx context.Context, loop *workspaceLoop, opts TickOptions) (*TickResult, error) {
	if !loop.ticking.TryLock() {
		return &TickResult{SkippedDueToRunning: true}, nil
	}
	defer loop.ticking.Unlock()

	cfg, err := LoadConfig(loop.ws)
	if err != nil {
		return nil, err
	}
	st, err := LoadState(loop.ws)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	st.pruneExpiredIdempotency(now)
	st.Stats.TotalTicks++

	workerIDs, err := discoverWorkerIDs(loop.ws)
	if err != nil {
		return nil, err
	}

	candidates, err := gatherCandidates(loop.ws, loop.ix, cfg, st, now, workerIDs)
	if err != nil {
		return nil, err
	}

	targets := selectWakeTargets(candidates, cfg, st, now)
	st.Stats.TotalWakes += len(targets)

	result := &TickResult{WokeTargets: targets, WokeCount: len(targets), Outcomes: map[string][]ActionOutcome{}}

	for _, t := range targets {
		wstate := st.WorkerState[t.agentID]
		wstate.LastWakeAt = &now
		wstate.LastContextHash = t.contextHash
		if cfg.OKSuppressionMinutes > 0 {
			suppressUntil := now.Add(time.Duration(cfg.OKSuppressionMinutes) * time.Minute)
			wstate.SuppressedUntil = &suppressUntil
		}
		st.WorkerState[t.agentID] = wstate
	}

	if !opts.DryRun {
		if err := SaveState(loop.ws, st); err != nil {
			return result, err
		}
	}
	return result, nil
}

// discoverWorkerIDs lists agents whose kind is "worker" (or unset, the
// zero-value default for agents predating the kind field).
func discoverWorkerIDs(ws *workspace.Workspace) ([]string, error) {
	ids, err := ws.ListAgentIDs()
	if err != nil {
		return nil, err
	}
	var workers []string
	for _, id := range ids {
		a, err := ws.ReadAgent(id)
		if err != nil {
			continue
		}
		if a.Kind == "" || a.Kind == "worker" {
			workers = append(workers, id)
		}
	}
	return workers, nil
}

// SubmitReport runs a woken worker's report through the action pipeline
// and persists the resulting state. Called from the RPC layer when a
// worker finishes a wake, independently of the tick that woke it.
func (s *Service) SubmitReport(ws *workspace.Workspace, bus *eventlog.Bus, report WorkerReport) ([]ActionOutcome, error) {
	cfg, err := LoadConfig(ws)
	if err != nil {
		return nil, err
	}
	st, err := LoadState(ws)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	st.pruneExpiredIdempotency(now)

	wstate := st.WorkerState[report.AgentID]
	wstate.LastReportStatus = string(report.Status)
	st.WorkerState[report.AgentID] = wstate

	outcomes, err := s.processReport(ws, bus, st, cfg, report, now)
	if err != nil {
		return outcomes, err
	}
	if err := SaveState(ws, st); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
