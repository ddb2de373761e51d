package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/launchlane"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// LaunchOpts, Backend etc. are defined in backend.go. LaunchSessionOpts
// is the runtime-level request: it adds run/worktree bookkeeping on top
// of a bare backend Launch.
type LaunchSessionOpts struct {
	ProjectID  string
	RunID      string
	AgentID    string
	Provider   string
	Argv       []string
	Env        map[string]string
	StdinText  string
	Parser     string // "" or "claude_stream_json"
	BackendKey string // "exec", "tmux" or "docker"

	// Worktree isolation, set only for coding-milestone tasks.
	WorktreeRepoPath string
	WorktreeBranch   string

	Pricing *workspace.ProviderPricing

	// LaunchPriority governs this launch's position in the launch
	// lane's per-workspace queue ("" is treated as PriorityNormal).
	LaunchPriority launchlane.Priority
}

type activeSession struct {
	ws         *workspace.Workspace
	bus        *eventlog.Bus
	opts       LaunchSessionOpts
	backend    Backend
	handle     Handle
	accum      *StreamJSONAccumulator
	stopped    atomic.Bool
	stdoutLen  atomic.Int64
	laneWaiter *launchlane.Waiter
}

// Manager tracks in-flight sessions launched in this process. A
// session_ref is simply "<project_id>/<run_id>"; it only resolves
// within the process that launched it, matching the local, file-backed
// scope of the runtime.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*activeSession
	backends map[string]Backend

	lane       *launchlane.Lane
	laneLimits launchlane.Limits
}

func NewManager(backends map[string]Backend) *Manager {
	return &Manager{
		sessions: make(map[string]*activeSession),
		backends: backends,
	}
}

// SetLaunchLane installs the launch lane every subsequent LaunchSession
// call admits through before spawning a backend process, and the
// concurrency limits it enforces. Leaving this unset (the zero value,
// as in tests that construct a Manager directly) disables the gate
// entirely: LaunchSession spawns immediately, matching the Manager's
// pre-launch-lane behavior.
func (m *Manager) SetLaunchLane(lane *launchlane.Lane, limits launchlane.Limits) {
	m.lane = lane
	m.laneLimits = limits
}

func sessionRef(projectID, runID string) string {
	return projectID + "/" + runID
}

func launchPriorityOrDefault(p launchlane.Priority) launchlane.Priority {
	if p == "" {
		return launchlane.PriorityNormal
	}
	return p
}

// LaunchSession implements the launchSession contract: prepares the run
// directory (and worktree, if requested), appends the opening event
// sequence, spawns the child, and returns the session_ref used for
// subsequent poll/collect/stop calls.
func (m *Manager) LaunchSession(ctx context.Context, ws *workspace.Workspace, bus *eventlog.Bus, opts LaunchSessionOpts) (string, error) {
	backend, ok := m.backends[opts.BackendKey]
	if !ok {
		return "", fmt.Errorf("session: unknown backend %q", opts.BackendKey)
	}

	if err := ws.CreateRunDir(opts.ProjectID, opts.RunID); err != nil {
		return "", err
	}
	eventsPath := ws.EventsJSONL(opts.ProjectID, opts.RunID)
	workDir := ws.RunDir(opts.ProjectID, opts.RunID)

	if _, err := eventlog.Append(eventsPath, eventlog.Envelope{
		RunID: opts.RunID, Actor: opts.AgentID, Visibility: eventlog.VisibilityOrg,
		Type: "run.started",
	}, bus); err != nil {
		return "", err
	}

	if opts.WorktreeRepoPath != "" {
		worktreeDir := ws.RunWorktreeDir(opts.ProjectID, opts.RunID)
		if err := PrepareWorktree(opts.WorktreeRepoPath, worktreeDir, opts.WorktreeBranch); err != nil {
			return "", err
		}
		workDir = worktreeDir
		if _, err := eventlog.Append(eventsPath, eventlog.Envelope{
			RunID: opts.RunID, Actor: opts.AgentID, Visibility: eventlog.VisibilityOrg,
			Type: "worktree.prepared",
			Payload: map[string]any{"path": worktreeDir, "branch": opts.WorktreeBranch},
		}, bus); err != nil {
			return "", err
		}
	}

	// The launch lane's admission wait happens before run.executing is
	// recorded: a launch still queued behind its workspace/provider
	// concurrency limit hasn't started executing yet.
	var laneWaiter *launchlane.Waiter
	if m.lane != nil {
		laneWaiter = m.lane.Acquire(ws.Root, launchlane.Options{
			Provider: opts.Provider,
			Priority: launchPriorityOrDefault(opts.LaunchPriority),
			Limits:   m.laneLimits,
		})
	}

	if _, err := eventlog.Append(eventsPath, eventlog.Envelope{
		RunID: opts.RunID, Actor: opts.AgentID, Visibility: eventlog.VisibilityOrg,
		Type: "run.executing",
	}, bus); err != nil {
		if laneWaiter != nil {
			laneWaiter.Release()
		}
		return "", err
	}
	if _, err := eventlog.Append(eventsPath, eventlog.Envelope{
		RunID: opts.RunID, Actor: opts.AgentID, Visibility: eventlog.VisibilityOrg,
		Type: "run.started", Payload: map[string]any{"argv": redactArgv(opts.Argv)},
	}, bus); err != nil {
		if laneWaiter != nil {
			laneWaiter.Release()
		}
		return "", err
	}

	as := &activeSession{ws: ws, bus: bus, opts: opts, backend: backend, laneWaiter: laneWaiter}
	if opts.Parser == "claude_stream_json" {
		as.accum = NewStreamJSONAccumulator()
	}

	handle, err := backend.Launch(ctx, LaunchOpts{
		Argv:       opts.Argv,
		Env:        opts.Env,
		StdinText:  opts.StdinText,
		WorkDir:    workDir,
		StdoutPath: filepath.Join(ws.RunOutputsDir(opts.ProjectID, opts.RunID), "stdout.txt"),
		StderrPath: filepath.Join(ws.RunOutputsDir(opts.ProjectID, opts.RunID), "stderr.txt"),
		OnChunk:    as.onChunk,
	})
	if err != nil {
		if laneWaiter != nil {
			laneWaiter.Release()
		}
		return "", err
	}
	as.handle = handle

	ref := sessionRef(opts.ProjectID, opts.RunID)
	m.mu.Lock()
	m.sessions[ref] = as
	m.mu.Unlock()

	go m.watch(ctx, ref, as)

	return ref, nil
}

func (as *activeSession) onChunk(stream string, chunk []byte) {
	as.stdoutLen.Add(int64(len(chunk)))
	eventsPath := as.ws.EventsJSONL(as.opts.ProjectID, as.opts.RunID)
	_, _ = eventlog.Append(eventsPath, eventlog.Envelope{
		RunID: as.opts.RunID, Actor: as.opts.AgentID, Visibility: eventlog.VisibilityOrg,
		Type:    "provider.raw",
		Payload: map[string]any{"stream": stream, "chunk": string(chunk)},
	}, as.bus)
	if as.accum != nil && stream == "stdout" {
		as.accum.Feed(chunk)
	}
}

// redactArgv masks argv elements that look like they carry a secret
// value, keyed by substring on the preceding flag name.
func redactArgv(argv []string) []string {
	out := make([]string, len(argv))
	redactNext := false
	for i, a := range argv {
		if redactNext {
			out[i] = "***"
			redactNext = false
			continue
		}
		lower := strings.ToLower(a)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
			if strings.Contains(a, "=") {
				parts := strings.SplitN(a, "=", 2)
				out[i] = parts[0] + "=***"
				continue
			}
			redactNext = true
		}
		out[i] = a
	}
	return out
}

// watch polls the backend until the child reaches a terminal state,
// then finalizes the run: usage extraction, last_message.md, and the
// closing event/run.yaml write.
func (m *Manager) watch(ctx context.Context, ref string, as *activeSession) {
	for {
		status, err := as.backend.Status(as.handle)
		if err != nil {
			if as.laneWaiter != nil {
				as.laneWaiter.Release()
			}
			return
		}
		if status.State == StateRunning {
			select {
			case <-ctx.Done():
			default:
			}
			time.Sleep(pollInterval)
			continue
		}
		m.finalize(as, status)
		return
	}
}

func (m *Manager) finalize(as *activeSession, status Status) {
	eventsPath := as.ws.EventsJSONL(as.opts.ProjectID, as.opts.RunID)

	finalStatus := workspace.RunEnded
	eventType := "run.ended"
	if as.stopped.Load() {
		finalStatus = workspace.RunStopped
		eventType = "run.stopped"
	} else if status.State == StateFailed || status.ExitCode != 0 {
		finalStatus = workspace.RunFailed
		eventType = "run.failed"
	}

	usage := m.extractUsage(as)
	if as.opts.Pricing != nil {
		DeriveCost(usage, as.opts.Pricing)
	}
	if usage.Source == workspace.UsageProviderReported {
		_, _ = eventlog.Append(eventsPath, eventlog.Envelope{
			RunID: as.opts.RunID, Actor: as.opts.AgentID, Visibility: eventlog.VisibilityOrg,
			Type: "usage.reported", Payload: usagePayload(usage),
		}, as.bus)
	} else {
		_, _ = eventlog.Append(eventsPath, eventlog.Envelope{
			RunID: as.opts.RunID, Actor: as.opts.AgentID, Visibility: eventlog.VisibilityOrg,
			Type: "usage.estimated", Payload: usagePayload(usage),
		}, as.bus)
	}

	_, _ = eventlog.Append(eventsPath, eventlog.Envelope{
		RunID: as.opts.RunID, Actor: as.opts.AgentID, Visibility: eventlog.VisibilityOrg,
		Type: eventType, Payload: map[string]any{"exit_code": status.ExitCode},
	}, as.bus)

	if as.accum != nil {
		if final, ok := as.accum.Final(); ok || final != "" {
			_ = os.WriteFile(filepath.Join(as.ws.RunOutputsDir(as.opts.ProjectID, as.opts.RunID), "last_message.md"), []byte(final), 0o644)
		}
	}

	_ = as.ws.WriteRun(&workspace.Run{
		RunID:     as.opts.RunID,
		ProjectID: as.opts.ProjectID,
		AgentID:   as.opts.AgentID,
		Provider:  as.opts.Provider,
		Status:    finalStatus,
		Usage:     usage,
	})

	_ = as.backend.Cleanup(as.handle)

	if as.laneWaiter != nil {
		as.laneWaiter.Release()
	}
}

func (m *Manager) extractUsage(as *activeSession) *workspace.Usage {
	var lines []string
	if as.accum != nil {
		lines = strings.Split(as.accum.Text(), "\n")
	}
	if data, err := os.ReadFile(filepath.Join(as.ws.RunOutputsDir(as.opts.ProjectID, as.opts.RunID), "stdout.txt")); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	if u := ExtractUsage(lines); u != nil {
		return u
	}
	return EstimateUsageFromChars(int(as.stdoutLen.Load()))
}

func usagePayload(u *workspace.Usage) map[string]any {
	p := map[string]any{
		"source":        string(u.Source),
		"confidence":    u.Confidence,
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.TotalTokens,
	}
	if u.CostUSD != nil {
		p["cost_usd"] = *u.CostUSD
	}
	return p
}

// PollSession implements pollSession: a point-in-time status read.
func (m *Manager) PollSession(ref string) (Status, error) {
	m.mu.Lock()
	as, ok := m.sessions[ref]
	m.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("session: unknown session_ref %q", ref)
	}
	return as.backend.Status(as.handle)
}

// CollectSessionResult is the return value of CollectSession.
type CollectSessionResult struct {
	Status         workspace.RunStatus
	OutputRelpaths []string
	Usage          *workspace.Usage
}

// CollectSession implements collectSession: reads back run.yaml and the
// outputs directory once the run has reached a terminal state.
func (m *Manager) CollectSession(ws *workspace.Workspace, projectID, runID string) (CollectSessionResult, error) {
	run, err := ws.ReadRun(projectID, runID)
	if err != nil {
		return CollectSessionResult{}, err
	}
	outputsDir := ws.RunOutputsDir(projectID, runID)
	entries, err := os.ReadDir(outputsDir)
	if err != nil {
		return CollectSessionResult{}, err
	}
	rels := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			rels = append(rels, filepath.Join("outputs", e.Name()))
		}
	}
	return CollectSessionResult{Status: run.Status, OutputRelpaths: rels, Usage: run.Usage}, nil
}

// StopSession implements stopSession: signals the backend to terminate
// the child; watch() observes the exit and records it as stopped rather
// than failed.
func (m *Manager) StopSession(ref string) error {
	m.mu.Lock()
	as, ok := m.sessions[ref]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown session_ref %q", ref)
	}
	as.stopped.Store(true)
	return as.backend.Kill(as.handle)
}

// IsLive reports whether this process currently tracks an in-flight
// session for (projectID, runID). A crash-reconciliation sweep uses
// this to tell a genuinely orphaned "running" run.yaml (this process
// restarted, or never launched it) from one still being watched.
func (m *Manager) IsLive(projectID, runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionRef(projectID, runID)]
	return ok
}
