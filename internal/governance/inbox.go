package governance

import (
	"time"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// ResolveInboxItemInput is the common shape of an inbox resolution
// request, regardless of which artifact kind it resolves.
type ResolveInboxItemInput struct {
	ProjectID  string
	ArtifactID string
	ReviewID   string
	ActorID    string
	ActorRole  workspace.Role
	ActorTeam  string
	Approve    bool
	Notes      string

	// Only required when the artifact is a milestone_report.
	TaskID      string
	MilestoneID string
}

// ResolveInboxItem reads the pending artifact, evaluates policy for the
// approve action against its kind, and dispatches to the matching
// propose/approve flow. A denial (by policy or by the caller passing
// Approve=false) writes a denied review and touches nothing else.
func ResolveInboxItem(ws *workspace.Workspace, bus *eventlog.Bus, ix *index.Index, in ResolveInboxItemInput) (Decision, error) {
	a, err := ws.ReadArtifact(in.ProjectID, in.ArtifactID)
	if err != nil {
		return Decision{}, err
	}

	decision, err := EnforcePolicy(ws, bus, Request{
		ProjectID:   in.ProjectID,
		RunID:       a.RunID,
		ActorID:     in.ActorID,
		ActorRole:   in.ActorRole,
		ActorTeamID: in.ActorTeam,
		Action:      ActionApprove,
		Resource: Resource{
			ResourceID:  in.ArtifactID,
			Visibility:  a.Visibility,
			Kind:        string(a.Type),
			Sensitivity: a.Sensitivity,
			ProducedBy:  a.ProducedBy,
		},
	})
	if err != nil {
		return decision, err
	}
	if !in.Approve {
		decision = Decision{Allowed: false, Reason: "reviewer denied", Trace: decision.Trace}
	}

	switch a.Type {
	case workspace.ArtifactMemoryDelta:
		err = ApproveMemoryDelta(ws, bus, ApproveMemoryDeltaInput{
			ProjectID:  in.ProjectID,
			ArtifactID: in.ArtifactID,
			ReviewID:   in.ReviewID,
			ActorID:    in.ActorID,
			ActorRole:  in.ActorRole,
			Notes:      in.Notes,
		}, decision)
	case workspace.ArtifactMilestoneReport:
		if in.TaskID == "" || in.MilestoneID == "" {
			return decision, apperr.Validation("resolving a milestone_report requires task_id and milestone_id")
		}
		err = ApproveMilestone(ws, bus, ApproveMilestoneInput{
			ProjectID:   in.ProjectID,
			TaskID:      in.TaskID,
			MilestoneID: in.MilestoneID,
			ArtifactID:  in.ArtifactID,
			ReviewID:    in.ReviewID,
			ActorID:     in.ActorID,
			ActorRole:   in.ActorRole,
			Notes:       in.Notes,
		}, decision)
	case workspace.ArtifactHeartbeatActionProposal:
		err = resolveHeartbeatActionProposal(ws, bus, a, in, decision)
	default:
		return decision, apperr.Validation("artifact %s has unresolvable type %q", in.ArtifactID, a.Type)
	}
	if err != nil {
		return decision, err
	}

	if ix != nil {
		review, rerr := ws.ReadReview(in.ReviewID)
		if rerr != nil {
			return decision, rerr
		}
		err = index.ResolvePendingApproval(ix, in.ProjectID, in.ArtifactID, review, a.RunID)
	}
	return decision, err
}

// resolveHeartbeatActionProposal executes a.Action exactly once on
// approval. Idempotency is enforced by checking for a prior
// action.executed event carrying this artifact_id before running it
// again, since a scheduler restart could otherwise replay the same
// approval.
func resolveHeartbeatActionProposal(ws *workspace.Workspace, bus *eventlog.Bus, a *workspace.Artifact, in ResolveInboxItemInput, decision Decision) error {
	reviewDecision := workspace.DecisionDenied
	if decision.Allowed {
		reviewDecision = workspace.DecisionApproved
	}

	if decision.Allowed {
		already, err := actionAlreadyExecuted(ws, in.ProjectID, a.RunID, in.ArtifactID)
		if err != nil {
			return err
		}
		if !already {
			if _, err := eventlog.Append(ws.EventsJSONL(in.ProjectID, a.RunID), eventlog.Envelope{
				RunID:      a.RunID,
				Actor:      in.ActorID,
				Visibility: eventlog.VisibilityTeam,
				Type:       "action.executed",
				Payload: map[string]any{
					"artifact_id": in.ArtifactID,
					"action":      a.Action,
				},
			}, bus); err != nil {
				return err
			}
		}
	}

	if err := ws.WriteReview(&workspace.Review{
		ID:        in.ReviewID,
		CreatedAt: time.Now().UTC(),
		ActorID:   in.ActorID,
		ActorRole: in.ActorRole,
		Decision:  reviewDecision,
		Subject:   workspace.ReviewSubject{Kind: "heartbeat_action_proposal", ArtifactID: in.ArtifactID},
		Policy:    decision.Trace,
		Notes:     in.Notes,
	}); err != nil {
		return err
	}

	_, err := eventlog.Append(ws.EventsJSONL(in.ProjectID, a.RunID), eventlog.Envelope{
		RunID:      a.RunID,
		Actor:      in.ActorID,
		Visibility: eventlog.VisibilityTeam,
		Type:       "approval.decided",
		Payload: map[string]any{
			"artifact_id": in.ArtifactID,
			"review_id":   in.ReviewID,
			"decision":    string(reviewDecision),
		},
	}, bus)
	return err
}

func actionAlreadyExecuted(ws *workspace.Workspace, projectID, runID, artifactID string) (bool, error) {
	lines, err := eventlog.ReadEventsJSONL(ws.EventsJSONL(projectID, runID))
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if !l.OK || l.Event.Type != "action.executed" {
			continue
		}
		if id, _ := l.Event.Payload["artifact_id"].(string); id == artifactID {
			return true, nil
		}
	}
	return false, nil
}
