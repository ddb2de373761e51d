package heartbeat

import (
	"time"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// ActionKind is the discriminated union of heartbeat actions a worker
// report can request.
type ActionKind string

const (
	ActionAddComment         ActionKind = "add_comment"
	ActionLaunchJob          ActionKind = "launch_job"
	ActionNoop               ActionKind = "noop"
	ActionCreateApprovalItem ActionKind = "create_approval_item"
)

// Risk classifies an action's blast radius; medium and above always
// route through the approval gate.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Action is one entry in a HeartbeatWorkerReport's Actions list.
type Action struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Kind           ActionKind     `json:"kind"`
	Risk           Risk           `json:"risk"`
	NeedsApproval  bool           `json:"needs_approval"`
	ProjectID      string         `json:"project_id"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// ReportStatus discriminates a worker's tick response.
type ReportStatus string

const (
	ReportOK      ReportStatus = "ok"
	ReportActions ReportStatus = "actions"
)

// WorkerReport is what a worker returns at the end of a wake.
type WorkerReport struct {
	AgentID string       `json:"agent_id"`
	Status  ReportStatus `json:"status"`
	Actions []Action     `json:"actions"`
}

// ActionOutcome classifies what processReport did with one action, for
// caller-visible stats and tests.
type ActionOutcome string

const (
	OutcomeDeduped      ActionOutcome = "deduped"
	OutcomeRateLimited  ActionOutcome = "rate_limited"
	OutcomeProposed     ActionOutcome = "proposed"
	OutcomeExecuted     ActionOutcome = "executed"
)

// processReport runs the five-step action pipeline over every action in
// report, mutating st in place and returning one outcome per action in
// order.
func (s *Service) processReport(ws *workspace.Workspace, bus *eventlog.Bus, st *State, cfg Config, report WorkerReport, now time.Time) ([]ActionOutcome, error) {
	if report.Status == ReportOK {
		wstate := st.WorkerState[report.AgentID]
		wstate.LastOKAt = &now
		st.WorkerState[report.AgentID] = wstate
		return nil, nil
	}

	outcomes := make([]ActionOutcome, 0, len(report.Actions))
	executedThisTick := 0
	bucket := hourBucket(now)

	for _, a := range report.Actions {
		entry, exists := st.Idempotency[a.IdempotencyKey]
		if exists && entry.Status == IdempotencyExecuted && now.Before(entry.ExpiresAt) {
			entry.LastSeenAt = now
			st.Idempotency[a.IdempotencyKey] = entry
			outcomes = append(outcomes, OutcomeDeduped)
			st.Stats.TotalDeduped++
			continue
		}
		if !exists {
			entry = IdempotencyEntry{
				FirstSeenAt: now,
				ExpiresAt:   now.Add(time.Duration(cfg.IdempotencyTTLMinutes) * time.Minute),
				Status:      IdempotencyQueued,
			}
		}
		entry.LastSeenAt = now

		if executedThisTick >= cfg.MaxAutoActionsPerTick || st.HourlyActionCounters[bucket] >= cfg.MaxAutoActionsPerHour {
			st.Idempotency[a.IdempotencyKey] = entry
			outcomes = append(outcomes, OutcomeRateLimited)
			st.Stats.TotalRateLimited++
			continue
		}

		if a.NeedsApproval || a.Risk == RiskMedium || a.Risk == RiskHigh || cfg.QuietHours.Contains(now) {
			if err := proposeHeartbeatAction(ws, bus, report.AgentID, a, now); err != nil {
				return outcomes, err
			}
			st.Idempotency[a.IdempotencyKey] = entry
			outcomes = append(outcomes, OutcomeProposed)
			st.Stats.TotalProposed++
			continue
		}

		if err := s.executeAction(ws, bus, report.AgentID, a, now); err != nil {
			return outcomes, err
		}
		entry.Status = IdempotencyExecuted
		entry.ExecutionCount++
		st.Idempotency[a.IdempotencyKey] = entry
		st.HourlyActionCounters[bucket]++
		executedThisTick++
		st.Stats.TotalExecuted++
		outcomes = append(outcomes, OutcomeExecuted)
	}
	return outcomes, nil
}

// executeAction dispatches by kind. launch_job is delegated to
// s.launchJob, a caller-supplied hook, so heartbeat never imports the
// session package directly.
func (s *Service) executeAction(ws *workspace.Workspace, bus *eventlog.Bus, agentID string, a Action, now time.Time) error {
	switch a.Kind {
	case ActionAddComment:
		body, _ := a.Payload["body"].(string)
		taskID, _ := a.Payload["task_id"].(string)
		return ws.WriteComment(&workspace.Comment{
			ID:         a.IdempotencyKey,
			ProjectID:  a.ProjectID,
			CreatedAt:  now,
			AuthorID:   agentID,
			Visibility: workspace.VisibilityTeam,
			TaskID:     taskID,
			Body:       body,
		})
	case ActionLaunchJob:
		if s.launchJob == nil {
			return apperr.Fatal(nil, "heartbeat: no launchJob hook configured")
		}
		return s.launchJob(ws, agentID, a)
	case ActionNoop:
		return nil
	case ActionCreateApprovalItem:
		return writeProposalArtifact(ws, agentID, a, now)
	default:
		return apperr.Validation("heartbeat: unknown action kind %q", a.Kind)
	}
}

func proposeHeartbeatAction(ws *workspace.Workspace, bus *eventlog.Bus, agentID string, a Action, now time.Time) error {
	art := &workspace.Artifact{
		ArtifactFrontmatter: workspace.ArtifactFrontmatter{
			SchemaVersion: 1,
			Type:          workspace.ArtifactHeartbeatActionProposal,
			ID:            a.IdempotencyKey,
			Title:         "heartbeat action: " + string(a.Kind),
			CreatedAt:     now,
			Visibility:    workspace.VisibilityManagers,
			ProducedBy:    agentID,
			ProjectID:     a.ProjectID,
			Action: map[string]any{
				"kind":            string(a.Kind),
				"risk":            string(a.Risk),
				"needs_approval":  a.NeedsApproval,
				"idempotency_key": a.IdempotencyKey,
				"payload":         a.Payload,
			},
		},
		Body: "Proposed by heartbeat scheduler for " + agentID,
	}
	return ws.WriteArtifact(art)
}

func writeProposalArtifact(ws *workspace.Workspace, agentID string, a Action, now time.Time) error {
	art := &workspace.Artifact{
		ArtifactFrontmatter: workspace.ArtifactFrontmatter{
			SchemaVersion: 1,
			Type:          workspace.ArtifactProposal,
			ID:            a.IdempotencyKey,
			Title:         "proposal from " + agentID,
			CreatedAt:     now,
			Visibility:    workspace.VisibilityTeam,
			ProducedBy:    agentID,
			ProjectID:     a.ProjectID,
		},
		Body: "",
	}
	return ws.WriteArtifact(art)
}
