package rpcserver

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/governance"
	"github.com/antigravity-dev/agentco/internal/heartbeat"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/launchlane"
	"github.com/antigravity-dev/agentco/internal/providers"
	"github.com/antigravity-dev/agentco/internal/session"
)

// RegisterMethods wires every "module.verb" handler the server exposes
// into router, closing over reg for per-workspace state and the
// long-lived session/heartbeat/index services it owns.
func RegisterMethods(router *Router, reg *Registry) {
	router.Register("workspace.project.create_with_defaults", handleCreateProjectWithDefaults(reg))
	router.Register("session.launch", handleSessionLaunch(reg))
	router.Register("session.poll", handleSessionPoll(reg))
	router.Register("session.collect", handleSessionCollect(reg))
	router.Register("session.stop", handleSessionStop(reg))
	router.Register("memory.propose_delta", handleProposeMemoryDelta(reg))
	router.Register("memory.approve_delta", handleApproveMemoryDelta(reg))
	router.Register("pm.apply_allocations", handleApplyAllocations(reg))
	router.Register("index.sync_worker_flush", handleIndexSyncWorkerFlush(reg))
	router.Register("index.sync_worker_status", handleIndexSyncWorkerStatus(reg))
	router.Register("heartbeat.get_status", handleHeartbeatGetStatus(reg))
	router.Register("heartbeat.set_config", handleHeartbeatSetConfig(reg))
	router.Register("heartbeat.tick", handleHeartbeatTick(reg))
	router.Register("heartbeat.submit_report", handleHeartbeatSubmitReport(reg))
	router.Register("events.subscribe", handleEventsSubscribe(reg))
	router.Register("events.unsubscribe", handleEventsUnsubscribe())
	router.Register("events.ack", handleEventsAck())
}

func decodeParams(params []byte, out any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return apperr.Validation("invalid params: %v", err)
	}
	return nil
}

// resolveWorkspaceDir is the shared observation side-effect: any handler
// whose params carry workspace_dir opens (or reuses) that workspace's
// handle, registers it with the index worker and heartbeat service, and
// enqueues an index-sync notify.
func resolveWorkspaceDir(ctx context.Context, reg *Registry, workspaceDir string) (*workspaceHandle, error) {
	if workspaceDir == "" {
		return nil, apperr.Validation("workspace_dir is required")
	}
	return reg.resolve(ctx, workspaceDir)
}

type createProjectParams struct {
	WorkspaceDir string `json:"workspace_dir"`
	ProjectID    string `json:"project_id"`
	Name         string `json:"name,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
}

func handleCreateProjectWithDefaults(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p createProjectParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.ProjectID == "" {
			return nil, apperr.Validation("project_id is required")
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		return h.ws.CreateProjectWithDefaults(p.ProjectID, p.Name, p.TeamID)
	}
}

type sessionLaunchParams struct {
	WorkspaceDir string            `json:"workspace_dir"`
	ProjectID    string            `json:"project_id"`
	RunID        string            `json:"run_id"`
	AgentID      string            `json:"agent_id"`
	Provider     string            `json:"provider"`
	Argv         []string          `json:"argv"`
	Env          map[string]string `json:"env,omitempty"`
	StdinText    string            `json:"stdin_text,omitempty"`
	Parser       string            `json:"parser,omitempty"`
	BackendKey   string            `json:"backend_key"`

	// Bin/Prompt/Model: when Argv is empty, handleSessionLaunch derives
	// it via providers.BuildCommand instead of trusting a caller-built
	// argv outright. Bin also doubles as the resolved binary path
	// CheckSubscriptionPolicy's allowlist check runs against when Argv
	// is supplied directly.
	Bin    string `json:"bin,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model,omitempty"`

	LaunchPriority string `json:"launch_priority,omitempty"` // "" or "normal" or "high"

	WorktreeRepoPath string `json:"worktree_repo_path,omitempty"`
	WorktreeBranch   string `json:"worktree_branch,omitempty"`
}

// handleSessionLaunch enforces §6's provider allowlist/subscription
// policy guard before ever reaching session.Manager.LaunchSession: it
// resolves (or builds, via providers.BuildCommand) argv, runs
// providers.CheckSubscriptionPolicy against the resolved binary, and
// only then launches, through the shared session.Manager whose
// LaunchSession admits every launch through the launch lane installed
// on it at process startup.
func handleSessionLaunch(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p sessionLaunchParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.ProjectID == "" || p.RunID == "" || p.AgentID == "" {
			return nil, apperr.Validation("project_id, run_id, and agent_id are required")
		}
		if p.Provider == "" {
			return nil, apperr.Validation("provider is required")
		}
		prov, ok := providers.Get(p.Provider)
		if !ok {
			return nil, apperr.Validation("unknown provider %q", p.Provider)
		}

		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}

		argv := p.Argv
		stdinText := p.StdinText
		parser := p.Parser
		if len(argv) == 0 {
			if p.Bin == "" || p.Prompt == "" {
				return nil, apperr.Validation("argv, or bin and prompt to build one, is required")
			}
			built, err := prov.BuildCommand(providers.BuildCommandOpts{
				Bin:           p.Bin,
				Prompt:        p.Prompt,
				Model:         p.Model,
				OutputsDirAbs: h.ws.RunOutputsDir(p.ProjectID, p.RunID),
			})
			if err != nil {
				return nil, apperr.Validation("building command for provider %q: %v", p.Provider, err)
			}
			argv = built.Argv
			if stdinText == "" {
				stdinText = built.StdinText
			}
			if parser == "" {
				parser = built.FinalTextParser
			}
		}

		resolvedBin := p.Bin
		if resolvedBin == "" && len(argv) > 0 {
			resolvedBin = argv[0]
		}
		policyResult := providers.CheckSubscriptionPolicy(p.Provider, resolvedBin, os.Getenv, reg.loginProbe(p.Provider))
		if !policyResult.OK {
			return nil, &providers.PolicyDeniedError{Provider: p.Provider, Reason: policyResult.Reason}
		}

		ref, err := reg.sessions.LaunchSession(ctx, h.ws, h.bus, session.LaunchSessionOpts{
			ProjectID:        p.ProjectID,
			RunID:            p.RunID,
			AgentID:          p.AgentID,
			Provider:         p.Provider,
			Argv:             argv,
			Env:              p.Env,
			StdinText:        stdinText,
			Parser:           parser,
			BackendKey:       p.BackendKey,
			WorktreeRepoPath: p.WorktreeRepoPath,
			WorktreeBranch:   p.WorktreeBranch,
			LaunchPriority:   launchlane.Priority(p.LaunchPriority),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"session_ref": ref}, nil
	}
}

type sessionRefParams struct {
	SessionRef string `json:"session_ref"`
}

func handleSessionPoll(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p sessionRefParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.SessionRef == "" {
			return nil, apperr.Validation("session_ref is required")
		}
		return reg.sessions.PollSession(p.SessionRef)
	}
}

type sessionCollectParams struct {
	WorkspaceDir string `json:"workspace_dir"`
	ProjectID    string `json:"project_id"`
	RunID        string `json:"run_id"`
}

func handleSessionCollect(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p sessionCollectParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.ProjectID == "" || p.RunID == "" {
			return nil, apperr.Validation("project_id and run_id are required")
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		return reg.sessions.CollectSession(h.ws, p.ProjectID, p.RunID)
	}
}

func handleSessionStop(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p sessionRefParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.SessionRef == "" {
			return nil, apperr.Validation("session_ref is required")
		}
		return nil, reg.sessions.StopSession(p.SessionRef)
	}
}

type proposeMemoryDeltaParams struct {
	WorkspaceDir string `json:"workspace_dir"`
	governance.ProposeMemoryDeltaInput
}

func handleProposeMemoryDelta(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p proposeMemoryDeltaParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		return governance.ProposeMemoryDelta(h.ws, h.bus, p.ProposeMemoryDeltaInput)
	}
}

type approveMemoryDeltaParams struct {
	WorkspaceDir string `json:"workspace_dir"`
	governance.ApproveMemoryDeltaInput
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason,omitempty"`
	Trace   map[string]any `json:"trace,omitempty"`
}

func handleApproveMemoryDelta(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p approveMemoryDeltaParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		decision := governance.Decision{Allowed: p.Allowed, Reason: p.Reason, Trace: p.Trace}
		if err := governance.ApproveMemoryDelta(h.ws, h.bus, p.ApproveMemoryDeltaInput, decision); err != nil {
			return nil, err
		}
		return map[string]any{"applied": p.Allowed}, nil
	}
}

type applyAllocationsParams struct {
	WorkspaceDir string `json:"workspace_dir"`
	ProjectID    string `json:"project_id"`
	Allocations  []struct {
		TaskID          string `json:"task_id"`
		AssigneeAgentID string `json:"assignee_agent_id"`
	} `json:"allocations"`
}

// handleApplyAllocations writes a batch of task-to-agent assignments
// produced by a planning pass, one WriteTask per allocation.
func handleApplyAllocations(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p applyAllocationsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.ProjectID == "" {
			return nil, apperr.Validation("project_id is required")
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		applied := 0
		for _, a := range p.Allocations {
			t, err := h.ws.ReadTask(p.ProjectID, a.TaskID)
			if err != nil {
				return nil, err
			}
			t.AssigneeAgentID = a.AssigneeAgentID
			if err := h.ws.WriteTask(t); err != nil {
				return nil, err
			}
			applied++
		}
		return map[string]any{"applied": applied}, nil
	}
}

type workspaceDirParams struct {
	WorkspaceDir string `json:"workspace_dir"`
}

func handleIndexSyncWorkerFlush(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p workspaceDirParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if _, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir); err != nil {
			return nil, err
		}
		reg.indexWorker.Flush()
		return map[string]any{"flushed": true}, nil
	}
}

func handleIndexSyncWorkerStatus(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		return reg.indexWorker.Status(), nil
	}
}

func handleHeartbeatGetStatus(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		return reg.heartbeat.GetStatus()
	}
}

type heartbeatSetConfigParams struct {
	WorkspaceDir string           `json:"workspace_dir"`
	Config       heartbeat.Config `json:"config"`
}

func handleHeartbeatSetConfig(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p heartbeatSetConfigParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		if err := reg.heartbeat.SetConfig(h.ws, p.Config); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
}

type heartbeatTickParams struct {
	WorkspaceDir string `json:"workspace_dir"`
	DryRun       bool   `json:"dry_run,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func handleHeartbeatTick(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p heartbeatTickParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		return reg.heartbeat.Tick(ctx, h.ws, heartbeat.TickOptions{DryRun: p.DryRun, Reason: p.Reason})
	}
}

type heartbeatSubmitReportParams struct {
	WorkspaceDir string `json:"workspace_dir"`
	heartbeat.WorkerReport
}

func handleHeartbeatSubmitReport(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p heartbeatSubmitReportParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		h, err := resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		outcomes, err := reg.heartbeat.SubmitReport(h.ws, h.bus, p.WorkerReport)
		if err != nil {
			return nil, err
		}
		return map[string]any{"outcomes": outcomes}, nil
	}
}

type eventsSubscribeParams struct {
	SubscriptionID string   `json:"subscription_id,omitempty"`
	WorkspaceDir   string   `json:"workspace_dir,omitempty"`
	ProjectID      string   `json:"project_id,omitempty"`
	RunID          string   `json:"run_id,omitempty"`
	EventTypes     []string `json:"event_types,omitempty"`
	BackfillLimit  int      `json:"backfill_limit,omitempty"`
}

func handleEventsSubscribe(reg *Registry) Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p eventsSubscribeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}

		var h *workspaceHandle
		if p.WorkspaceDir != "" {
			var err error
			h, err = resolveWorkspaceDir(ctx, reg, p.WorkspaceDir)
			if err != nil {
				return nil, err
			}
		}

		subID := p.SubscriptionID
		if subID == "" {
			subID = uuid.NewString()
		}
		filter := subscriptionFilter{ProjectID: p.ProjectID, RunID: p.RunID}
		if len(p.EventTypes) > 0 {
			filter.EventTypes = make(map[string]struct{}, len(p.EventTypes))
			for _, t := range p.EventTypes {
				filter.EventTypes[t] = struct{}{}
			}
		}

		if h != nil && p.BackfillLimit > 0 {
			if err := index.SyncSqliteIndex(h.ix, h.ws); err != nil {
				return nil, err
			}
			rows, err := index.ListEvents(h.ix, p.ProjectID, p.RunID, 0, p.BackfillLimit, true)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				var payload map[string]any
				_ = json.Unmarshal([]byte(row.PayloadJSON), &payload)
				conn.Notify("events.notification", map[string]any{
					"subscription_id": subID,
					"project_id":      p.ProjectID,
					"event": map[string]any{
						"event_id":     row.EventID,
						"ts_wallclock": row.TsWallclock,
						"actor":        row.Actor,
						"visibility":   row.Visibility,
						"type":         row.Type,
						"payload":      payload,
					},
				})
			}
		}

		bus := conn.Bus()
		if h != nil {
			bus = h.bus
		}
		unsubscribe := bus.Subscribe(func(n eventlog.Notification) {
			projectID, runID := parseEventsFilePath(n.EventsFilePath)
			if !filter.matches(projectID, runID, n.Event) {
				return
			}
			conn.Notify("events.notification", map[string]any{
				"subscription_id": subID,
				"project_id":      projectID,
				"event":           n.Event,
			})
		})
		conn.Subscriptions().add(&subscription{id: subID, filter: filter, unsubscribe: unsubscribe})

		return map[string]any{"subscription_id": subID}, nil
	}
}

type subscriptionIDParams struct {
	SubscriptionID string `json:"subscription_id"`
}

func handleEventsUnsubscribe() Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p subscriptionIDParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		sub, ok := conn.Subscriptions().remove(p.SubscriptionID)
		if !ok {
			return nil, apperr.NotFound("subscription %s not found", p.SubscriptionID)
		}
		sub.unsubscribe()
		return map[string]any{"unsubscribed": true}, nil
	}
}

// handleEventsAck confirms a subscription_id is still live; this
// transport keeps no per-subscription replay buffer once live fanout
// has started, so ack exists for the client's own cursor bookkeeping
// rather than to advance any server-side state.
func handleEventsAck() Handler {
	return func(ctx context.Context, conn *Conn, params []byte) (any, error) {
		var p subscriptionIDParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if !conn.Subscriptions().has(p.SubscriptionID) {
			return nil, apperr.NotFound("subscription %s not found", p.SubscriptionID)
		}
		return map[string]any{"acked": true}, nil
	}
}
